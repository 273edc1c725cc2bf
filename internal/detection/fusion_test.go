package detection

import (
	"testing"
	"time"

	"github.com/controledu/classroom/internal/wire"
)

func TestFuseStageResultsPicksHighestConfidence(t *testing.T) {
	low := wire.DetectionResult{IsAiUiDetected: true, Confidence: 0.7, Class: wire.ClassChatGpt, StageSource: wire.StageMetadataRule, TriggeredKeywords: []string{"chatgpt"}}
	high := wire.DetectionResult{IsAiUiDetected: true, Confidence: 0.9, Class: wire.ClassClaude, StageSource: wire.StageOnnxBinary}

	fused := FuseStageResults(low, high)
	if fused.Class != wire.ClassClaude {
		t.Errorf("Class = %v, want Claude (higher confidence)", fused.Class)
	}
	if fused.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", fused.Confidence)
	}
	if len(fused.TriggeredKeywords) != 1 || fused.TriggeredKeywords[0] != "chatgpt" {
		t.Errorf("TriggeredKeywords = %v, want merged [chatgpt]", fused.TriggeredKeywords)
	}
}

func TestFuseStageResultsNoCandidates(t *testing.T) {
	fused := FuseStageResults()
	if fused.IsAiUiDetected {
		t.Errorf("expected negative fused result with no candidates")
	}
}

// window=3, requiredVotes=2, cooldown=30s; feed
// positive(0.85) at t0, positive(0.90) at t0+1s. First call is not stable;
// second is stable and emits.
func TestTemporalSmootherBecomesStable(t *testing.T) {
	policy := wire.DetectionPolicy{TemporalWindowSize: 3, TemporalRequiredVotes: 2, CooldownSeconds: 30}
	s := NewTemporalSmoother(policy)
	t0 := time.Unix(10_000, 0)

	first, emit1 := s.Push(wire.DetectionResult{IsAiUiDetected: true, Confidence: 0.85, Class: wire.ClassChatGpt}, t0)
	if first.IsStable || emit1 {
		t.Errorf("first push: got IsStable=%v emit=%v, want false, false", first.IsStable, emit1)
	}

	second, emit2 := s.Push(wire.DetectionResult{IsAiUiDetected: true, Confidence: 0.90, Class: wire.ClassChatGpt}, t0.Add(time.Second))
	if !second.IsStable {
		t.Errorf("second push: IsStable = false, want true")
	}
	if !second.IsAiUiDetected {
		t.Errorf("second push: IsAiUiDetected = false, want true")
	}
	if !emit2 {
		t.Errorf("second push: shouldEmit = false, want true")
	}
}

// window=1, requiredVotes=1, cooldown=20s; feed
// positive(0.88) at t0, t0+2s, t0+25s. shouldEmit = true, false, true.
func TestTemporalSmootherCooldownSuppression(t *testing.T) {
	policy := wire.DetectionPolicy{TemporalWindowSize: 1, TemporalRequiredVotes: 1, CooldownSeconds: 20}
	s := NewTemporalSmoother(policy)
	t0 := time.Unix(20_000, 0)

	pos := wire.DetectionResult{IsAiUiDetected: true, Confidence: 0.88, Class: wire.ClassGemini}

	_, emit1 := s.Push(pos, t0)
	_, emit2 := s.Push(pos, t0.Add(2*time.Second))
	_, emit3 := s.Push(pos, t0.Add(25*time.Second))

	if !emit1 {
		t.Errorf("t0: shouldEmit = false, want true")
	}
	if emit2 {
		t.Errorf("t0+2s: shouldEmit = true, want false")
	}
	if !emit3 {
		t.Errorf("t0+25s: shouldEmit = false, want true")
	}
}
