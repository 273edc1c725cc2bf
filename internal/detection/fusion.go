package detection

import (
	"time"

	"github.com/controledu/classroom/internal/wire"
)

// FuseStageResults implements the accept/pick-highest half of Stage D:
// candidates is the set of stage B/C results that already cleared
// their own threshold (IsAiUiDetected=true). The highest-confidence
// candidate wins; its triggered keywords are merged with any other
// candidate's. An empty candidate set fuses to a negative result.
func FuseStageResults(candidates ...wire.DetectionResult) wire.DetectionResult {
	var best *wire.DetectionResult
	var keywords []string
	seen := map[string]bool{}

	for i := range candidates {
		c := candidates[i]
		if !c.IsAiUiDetected {
			continue
		}
		for _, kw := range c.TriggeredKeywords {
			if !seen[kw] {
				seen[kw] = true
				keywords = append(keywords, kw)
			}
		}
		if best == nil || c.Confidence > best.Confidence {
			cc := c
			best = &cc
		}
	}

	if best == nil {
		return wire.DetectionResult{StageSource: wire.StageFused, Reason: "No stage accepted"}
	}

	result := *best
	result.StageSource = wire.StageFused
	result.TriggeredKeywords = keywords
	result.Reason = "Fused from " + best.StageSource.String()
	return result
}

// smootherEntry is one vote in the temporal sliding window.
type smootherEntry struct {
	positive   bool
	confidence float64
	class      wire.DetectionClass
	at         time.Time
}

// TemporalSmoother implements the second half of Stage D: a
// fixed-size sliding window majority vote over fused results, gated by a
// per-class cooldown so a stable run of positives emits at most one alert
// every cooldownSeconds.
type TemporalSmoother struct {
	windowSize   int
	requiredVote int
	cooldown     time.Duration
	window       []smootherEntry
	lastAlertAt  map[wire.DetectionClass]time.Time
}

// NewTemporalSmoother builds a smoother from a DetectionPolicy.
func NewTemporalSmoother(policy wire.DetectionPolicy) *TemporalSmoother {
	size := policy.TemporalWindowSize
	if size <= 0 {
		size = 1
	}
	votes := policy.TemporalRequiredVotes
	if votes <= 0 {
		votes = 1
	}
	return &TemporalSmoother{
		windowSize:   size,
		requiredVote: votes,
		cooldown:     time.Duration(policy.CooldownSeconds) * time.Second,
		lastAlertAt:  map[wire.DetectionClass]time.Time{},
	}
}

// Push records one fused result and returns the smoothed verdict plus
// whether a new alert should be emitted for it.
func (s *TemporalSmoother) Push(fused wire.DetectionResult, now time.Time) (wire.DetectionResult, bool) {
	entry := smootherEntry{
		positive:   fused.IsAiUiDetected,
		confidence: fused.Confidence,
		class:      fused.Class,
		at:         now,
	}
	s.window = append(s.window, entry)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}

	votes := 0
	for _, e := range s.window {
		if e.positive {
			votes++
		}
	}
	isStable := votes >= s.requiredVote

	smoothed := wire.DetectionResult{
		StageSource: wire.StageFused,
		IsStable:    isStable,
		Reason:      fused.Reason,
	}
	if !isStable {
		return smoothed, false
	}

	cls, conf := s.plurality()
	smoothed.IsAiUiDetected = true
	smoothed.Class = cls
	smoothed.Confidence = conf
	smoothed.TriggeredKeywords = fused.TriggeredKeywords

	last, ok := s.lastAlertAt[cls]
	if ok && now.Sub(last) < s.cooldown {
		return smoothed, false
	}
	s.lastAlertAt[cls] = now
	return smoothed, true
}

// plurality picks the positive class with the most votes in the current
// window, breaking ties by highest max confidence then by most recent
// occurrence.
func (s *TemporalSmoother) plurality() (wire.DetectionClass, float64) {
	type tally struct {
		votes   int
		maxConf float64
		sum     float64
		latest  time.Time
	}
	byClass := map[wire.DetectionClass]*tally{}
	for _, e := range s.window {
		if !e.positive {
			continue
		}
		t, ok := byClass[e.class]
		if !ok {
			t = &tally{}
			byClass[e.class] = t
		}
		t.votes++
		t.sum += e.confidence
		if e.confidence > t.maxConf {
			t.maxConf = e.confidence
		}
		if e.at.After(t.latest) {
			t.latest = e.at
		}
	}

	var bestClass wire.DetectionClass
	var best *tally
	for cls, t := range byClass {
		if best == nil ||
			t.votes > best.votes ||
			(t.votes == best.votes && t.maxConf > best.maxConf) ||
			(t.votes == best.votes && t.maxConf == best.maxConf && t.latest.After(best.latest)) {
			best = t
			bestClass = cls
		}
	}
	if best == nil {
		return wire.ClassNone, 0
	}

	conf := best.sum / float64(best.votes)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return bestClass, conf
}
