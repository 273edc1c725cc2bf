package detection

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"
)

func solidJPEG(t *testing.T, c color.Gray) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// Same JPEG twice within 1s, frameChangeThreshold=2,
// minRecheckIntervalSeconds=120 -> first shouldAnalyze=true, second
// shouldAnalyze=false and frameChanged=false with the same hash.
func TestEvaluateSameFrameTwice(t *testing.T) {
	frame := solidJPEG(t, color.Gray{Y: 128})
	var state ChangeFilterState
	t0 := time.Unix(1000, 0)

	first := Evaluate(&state, frame, t0, 2, 120)
	if !first.ShouldAnalyze {
		t.Fatalf("first call: ShouldAnalyze = false, want true")
	}

	second := Evaluate(&state, frame, t0.Add(time.Second), 2, 120)
	if second.ShouldAnalyze {
		t.Errorf("second call: ShouldAnalyze = true, want false")
	}
	if second.FrameChanged {
		t.Errorf("second call: FrameChanged = true, want false")
	}
	if second.Hash != first.Hash {
		t.Errorf("hash changed across identical frames: %016x vs %016x", first.Hash, second.Hash)
	}
}

func TestEvaluateNoFrameBytes(t *testing.T) {
	var state ChangeFilterState
	result := Evaluate(&state, nil, time.Unix(0, 0), 2, 120)
	if !result.ShouldAnalyze || !result.FrameChanged {
		t.Errorf("empty frame: got %+v, want ShouldAnalyze=true FrameChanged=true", result)
	}
}

func TestEvaluateRecheckInterval(t *testing.T) {
	frame := solidJPEG(t, color.Gray{Y: 60})
	var state ChangeFilterState
	t0 := time.Unix(2000, 0)

	Evaluate(&state, frame, t0, 2, 5)
	later := Evaluate(&state, frame, t0.Add(10*time.Second), 2, 5)
	if !later.ShouldAnalyze {
		t.Errorf("recheck interval elapsed: ShouldAnalyze = false, want true")
	}
	if later.FrameChanged {
		t.Errorf("identical frame: FrameChanged = true, want false")
	}
}

func TestEvaluateDecodeFailureKeepsPreviousHash(t *testing.T) {
	frame := solidJPEG(t, color.Gray{Y: 200})
	var state ChangeFilterState
	t0 := time.Unix(3000, 0)

	first := Evaluate(&state, frame, t0, 2, 120)

	garbage := []byte{0xFF, 0xD8, 0x00, 0x01, 0x02}
	bad := Evaluate(&state, garbage, t0.Add(time.Second), 2, 120)
	if !bad.DecodeFailed || !bad.ShouldAnalyze {
		t.Errorf("decode failure: got %+v, want DecodeFailed=true ShouldAnalyze=true", bad)
	}
	if !state.HasPrevious || state.PreviousHash != first.Hash {
		t.Errorf("decode failure must not clear previous hash")
	}
}
