package detection

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"
)

func solidPipelineJPEG(t *testing.T, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: gray})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// ML model path missing -> detector disables itself;
// Analyze still returns a result without panicking, and shouldEmit=false.
func TestPipelineMlModelAbsentDegradesSilently(t *testing.T) {
	policy := ProductionPolicy()
	binary := NewBinaryClassifier(filepath.Join(t.TempDir(), "missing.onnx"), "v1")
	p := NewPipeline(policy, binary, nil)

	frame := solidPipelineJPEG(t, 90)
	result, shouldEmit := p.Analyze(Observation{ActiveWindowTitle: "Notepad"}, frame, time.Unix(5000, 0))

	if shouldEmit {
		t.Errorf("shouldEmit = true, want false")
	}
	if result.IsAiUiDetected {
		t.Errorf("expected no detection, got %+v", result)
	}
}

func TestPipelineKeywordMatchFlowsThroughFusion(t *testing.T) {
	policy := ProductionPolicy()
	policy.TemporalWindowSize = 1
	policy.TemporalRequiredVotes = 1
	p := NewPipeline(policy, nil, nil)

	frame := solidPipelineJPEG(t, 10)
	result, shouldEmit := p.Analyze(Observation{ActiveWindowTitle: "ChatGPT"}, frame, time.Unix(6000, 0))

	if !result.IsAiUiDetected || !shouldEmit {
		t.Fatalf("expected detected+emitted, got result=%+v shouldEmit=%v", result, shouldEmit)
	}
}

// halfPipelineJPEG renders a half-black/half-white frame, split vertically
// or horizontally. The two orientations produce average-hashes that differ
// in well over the change threshold, unlike two solid fills, which hash
// identically regardless of their gray level.
func halfPipelineJPEG(t *testing.T, vertical bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			var v uint8
			if (vertical && x >= 8) || (!vertical && y >= 8) {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// A cached (frame-unchanged) call arriving after the cooldown has elapsed
// must not re-stamp the per-class alert timestamp: the next genuine
// analysis re-alerts based on the last real alert, not on the cached call.
func TestPipelineCachedCallDoesNotExtendCooldown(t *testing.T) {
	policy := ProductionPolicy()
	policy.TemporalWindowSize = 1
	policy.TemporalRequiredVotes = 1
	policy.CooldownSeconds = 10
	policy.MinRecheckIntervalSeconds = 120
	p := NewPipeline(policy, nil, nil)

	frameA := halfPipelineJPEG(t, true)
	frameB := halfPipelineJPEG(t, false)
	obs := Observation{ActiveWindowTitle: "ChatGPT"}
	t0 := time.Unix(8000, 0)

	if _, emit := p.Analyze(obs, frameA, t0); !emit {
		t.Fatal("first analyze should emit an alert")
	}

	// Unchanged frame 15s later: the cooldown has already elapsed, but a
	// cached call must neither emit nor advance smoother state.
	if res, emit := p.Analyze(obs, frameA, t0.Add(15*time.Second)); emit {
		t.Fatalf("cached call emitted an alert, result=%+v", res)
	}

	// Frame change at t0+18s: 18s since the last real alert clears the 10s
	// cooldown, so this must emit. It would be suppressed if the cached
	// call at t0+15s had walked the alert timestamp forward.
	if res, emit := p.Analyze(obs, frameB, t0.Add(18*time.Second)); !emit {
		t.Fatalf("post-change analyze was suppressed, result=%+v", res)
	}
}

func TestPipelineReusesCachedDecisionWhenFrameUnchanged(t *testing.T) {
	policy := ProductionPolicy()
	policy.MinRecheckIntervalSeconds = 120
	policy.TemporalWindowSize = 1
	policy.TemporalRequiredVotes = 1
	p := NewPipeline(policy, nil, nil)

	frame := solidPipelineJPEG(t, 200)
	t0 := time.Unix(7000, 0)

	first, emit1 := p.Analyze(Observation{ActiveWindowTitle: "ChatGPT"}, frame, t0)
	if !first.IsAiUiDetected || !emit1 {
		t.Fatalf("first analyze: expected detected+emitted, got %+v emit=%v", first, emit1)
	}

	second, emit2 := p.Analyze(Observation{ActiveWindowTitle: "ChatGPT"}, frame, t0.Add(time.Second))
	if emit2 {
		t.Errorf("cached frame must never emit a new alert")
	}
	if !second.IsAiUiDetected {
		t.Errorf("cached decision should preserve the stable positive, got %+v", second)
	}
}
