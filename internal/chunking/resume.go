package chunking

import "fmt"

// ResumeState wraps a boolean completion array over [0,Total) chunks. It
// never shrinks: MarkCompleted only ever turns bits on.
type ResumeState struct {
	Total     int
	completed []bool
	count     int
}

// NewResumeState allocates a resume tracker for a transfer with the given
// total chunk count.
func NewResumeState(total int) *ResumeState {
	if total < 0 {
		total = 0
	}
	return &ResumeState{Total: total, completed: make([]bool, total)}
}

// NewResumeStateFromIndexes seeds a resume tracker from a previously
// persisted set of completed indexes (e.g. reloaded from storage).
func NewResumeStateFromIndexes(total int, indexes []int) *ResumeState {
	rs := NewResumeState(total)
	for _, i := range indexes {
		rs.MarkCompleted(i)
	}
	return rs
}

// MarkCompleted records chunk i as present. Out-of-range indexes are
// rejected with an error; marking an already-completed chunk is a no-op.
func (r *ResumeState) MarkCompleted(i int) error {
	if i < 0 || i >= r.Total {
		return fmt.Errorf("chunking: index %d out of range [0,%d)", i, r.Total)
	}
	if !r.completed[i] {
		r.completed[i] = true
		r.count++
	}
	return nil
}

// IsComplete reports whether every chunk in [0,Total) has been marked.
func (r *ResumeState) IsComplete() bool {
	return r.count == r.Total
}

// CompletedCount returns the number of chunks marked so far.
func (r *ResumeState) CompletedCount() int {
	return r.count
}

// GetMissingChunks returns the ascending list of chunk indexes not yet
// marked complete.
func (r *ResumeState) GetMissingChunks() []int {
	missing := make([]int, 0, r.Total-r.count)
	for i, ok := range r.completed {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// CompletedIndexes returns the ascending list of chunk indexes marked
// complete, suitable for persistence.
func (r *ResumeState) CompletedIndexes() []int {
	done := make([]int, 0, r.count)
	for i, ok := range r.completed {
		if ok {
			done = append(done, i)
		}
	}
	return done
}
