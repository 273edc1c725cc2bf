package detection

import (
	"time"

	"github.com/controledu/classroom/internal/wire"
)

// Pipeline wires stages A through D together for one student endpoint
//. One Pipeline is owned per client; it is not safe for concurrent
// use by multiple goroutines.
type Pipeline struct {
	policy   wire.DetectionPolicy
	binary   Classifier
	multi    Classifier
	change   ChangeFilterState
	smoother *TemporalSmoother

	hasLastSmoothed bool
	lastSmoothed    wire.DetectionResult
}

// NewPipeline constructs a Pipeline. binary/multi may be nil when no ML
// model is configured; EvaluateML treats a nil Classifier the same as a
// disabled one.
func NewPipeline(policy wire.DetectionPolicy, binary, multi Classifier) *Pipeline {
	return &Pipeline{
		policy:   policy,
		binary:   binary,
		multi:    multi,
		smoother: NewTemporalSmoother(policy),
	}
}

// Analyze runs one frame through the full pipeline and returns the smoothed
// decision plus whether a new alert should be emitted for it. It never
// returns an error: a failing classifier or a corrupt frame degrades to a
// negative contribution rather than aborting the evaluation.
func (p *Pipeline) Analyze(obs Observation, jpegBytes []byte, now time.Time) (wire.DetectionResult, bool) {
	if !p.policy.Enabled {
		return wire.DetectionResult{StageSource: wire.StageFused, Reason: "Detection disabled"}, false
	}

	change := Evaluate(&p.change, jpegBytes, now, p.policy.FrameChangeThreshold, p.policy.MinRecheckIntervalSeconds)

	// Cached path: the frame is visually unchanged, so replay the last
	// smoothed decision without touching smoother state. Pushing the cached
	// result through the smoother would re-stamp the per-class alert
	// timestamp on every cached call past the cooldown, walking it forward
	// until a genuinely new analysis gets its legitimate re-alert suppressed.
	if !change.ShouldAnalyze && p.hasLastSmoothed {
		smoothed := p.lastSmoothed
		smoothed.Reason = "Frame unchanged; reused previous detection"
		return smoothed, false
	}

	var candidates []wire.DetectionResult

	metadata := EvaluateMetadata(obs, p.policy)
	if metadata.IsAiUiDetected && metadata.Confidence >= p.policy.MetadataThreshold {
		candidates = append(candidates, metadata)
	}

	if p.binary != nil {
		if r := EvaluateML(p.binary, jpegBytes, wire.StageOnnxBinary, p.policy); r.IsAiUiDetected {
			candidates = append(candidates, r)
		}
	}
	if p.multi != nil {
		if r := EvaluateML(p.multi, jpegBytes, wire.StageOnnxMulticlass, p.policy); r.IsAiUiDetected {
			candidates = append(candidates, r)
		}
	}

	fused := FuseStageResults(candidates...)

	smoothed, shouldEmit := p.smoother.Push(fused, now)
	p.lastSmoothed = smoothed
	p.hasLastSmoothed = true
	return smoothed, shouldEmit
}
