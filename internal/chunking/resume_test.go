package chunking

import "testing"

func TestResumeStateLifecycle(t *testing.T) {
	rs := NewResumeState(4)
	if rs.IsComplete() {
		t.Fatal("fresh resume state reports complete")
	}
	if err := rs.MarkCompleted(1); err != nil {
		t.Fatalf("MarkCompleted(1): %v", err)
	}
	if err := rs.MarkCompleted(1); err != nil {
		t.Fatalf("MarkCompleted(1) twice: %v", err)
	}
	if rs.CompletedCount() != 1 {
		t.Errorf("CompletedCount() = %d, want 1", rs.CompletedCount())
	}

	for _, i := range []int{0, 2, 3} {
		if err := rs.MarkCompleted(i); err != nil {
			t.Fatalf("MarkCompleted(%d): %v", i, err)
		}
	}
	if !rs.IsComplete() {
		t.Fatal("expected IsComplete() after marking every chunk")
	}
	if len(rs.GetMissingChunks()) != 0 {
		t.Errorf("GetMissingChunks() = %v, want empty", rs.GetMissingChunks())
	}
}

func TestResumeStateOutOfRange(t *testing.T) {
	rs := NewResumeState(2)
	if err := rs.MarkCompleted(-1); err == nil {
		t.Error("expected error marking negative index")
	}
	if err := rs.MarkCompleted(2); err == nil {
		t.Error("expected error marking index == Total")
	}
}

// TestResumeStateInvariant checks that IsComplete, CompletedCount==Total,
// and GetMissingChunks()-is-empty always agree.
func TestResumeStateInvariant(t *testing.T) {
	rs := NewResumeState(5)
	for i := 0; i < 5; i++ {
		gotComplete := rs.IsComplete()
		gotCount := rs.CompletedCount() == rs.Total
		gotMissingEmpty := len(rs.GetMissingChunks()) == 0
		if gotComplete != gotCount || gotCount != gotMissingEmpty {
			t.Fatalf("invariant broken at i=%d: complete=%v count==total=%v missingEmpty=%v",
				i, gotComplete, gotCount, gotMissingEmpty)
		}
		rs.MarkCompleted(i)
	}
	if !rs.IsComplete() {
		t.Fatal("expected complete after marking all chunks")
	}
}

func TestResumeStateFromIndexes(t *testing.T) {
	rs := NewResumeStateFromIndexes(8, []int{0, 2, 3, 7})
	want := []int{1, 4, 5, 6}
	got := rs.GetMissingChunks()
	if len(got) != len(want) {
		t.Fatalf("GetMissingChunks() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetMissingChunks() = %v, want %v", got, want)
		}
	}
}
