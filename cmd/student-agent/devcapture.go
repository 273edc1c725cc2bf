package main

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/controledu/classroom/internal/agent"
)

// placeholderCapturer stands in for the platform screen-capture backend,
// which ships with the desktop endpoint rather than this module. It exists
// to exercise the capture, encode, and adapt path end to end; a real
// deployment wires agent.Capturer to a platform capture implementation.
type placeholderCapturer struct{}

func (placeholderCapturer) Capture(quality int) (agent.Frame, error) {
	const w, h = 1280, 720
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 32
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return agent.Frame{}, err
	}
	return agent.Frame{Jpeg: buf.Bytes(), Width: w, Height: h}, nil
}
