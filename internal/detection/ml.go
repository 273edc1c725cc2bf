package detection

import (
	"os"

	"github.com/controledu/classroom/internal/wire"
)

// Classifier is the contract an optional ML detector satisfies. Real model
// loading (ONNX Runtime or similar) is explicitly out of scope; this interface is
// the seam the student endpoint plugs a real inference backend into. The
// pipeline only depends on this interface, never on a concrete runtime.
type Classifier interface {
	// Enabled reports whether the classifier initialized successfully
	// (model artifact present and valid). A disabled classifier MUST make
	// no contribution rather than error.
	Enabled() bool
	// Classify returns a raw (unthresholded) result for one frame.
	Classify(jpegBytes []byte) (confidence float64, class wire.DetectionClass, modelVersion string)
}

// BinaryClassifier is a stub satisfying Classifier for a sigmoid/2-class
// model artifact at ModelPath. It never actually runs inference (no ONNX
// runtime is available to this module); it simply reports itself disabled
// when the artifact is missing, so the pipeline degrades silently to the
// metadata-only stages in the absence of a real model.
type BinaryClassifier struct {
	ModelPath    string
	ModelVersion string
	enabled      bool
}

// NewBinaryClassifier probes ModelPath and marks the classifier disabled if
// the artifact cannot be opened.
func NewBinaryClassifier(modelPath, modelVersion string) *BinaryClassifier {
	c := &BinaryClassifier{ModelPath: modelPath, ModelVersion: modelVersion}
	if modelPath != "" {
		if fi, err := os.Stat(modelPath); err == nil && !fi.IsDir() {
			c.enabled = true
		}
	}
	return c
}

func (c *BinaryClassifier) Enabled() bool { return c.enabled }

// Classify always returns a negative contribution; with no inference
// runtime wired in, a "positive" binary result could never be justified.
// Real deployments replace this with a bound ONNX Runtime session.
func (c *BinaryClassifier) Classify(jpegBytes []byte) (float64, wire.DetectionClass, string) {
	if !c.enabled {
		return 0, wire.ClassNone, ""
	}
	return 0, wire.ClassNone, c.ModelVersion
}

// MulticlassClassifier is the Stage C counterpart for a softmax-over-label
// model. Same degrade-silently contract as BinaryClassifier.
type MulticlassClassifier struct {
	ModelPath    string
	ModelVersion string
	Labels       []wire.DetectionClass
	enabled      bool
}

func NewMulticlassClassifier(modelPath, modelVersion string, labels []wire.DetectionClass) *MulticlassClassifier {
	c := &MulticlassClassifier{ModelPath: modelPath, ModelVersion: modelVersion, Labels: labels}
	if modelPath != "" {
		if fi, err := os.Stat(modelPath); err == nil && !fi.IsDir() {
			c.enabled = true
		}
	}
	return c
}

func (c *MulticlassClassifier) Enabled() bool { return c.enabled }

func (c *MulticlassClassifier) Classify(jpegBytes []byte) (float64, wire.DetectionClass, string) {
	if !c.enabled {
		return 0, wire.ClassNone, ""
	}
	return 0, wire.ClassNone, c.ModelVersion
}

// EvaluateML runs a classifier and converts its raw output into a
// DetectionResult, applying the policy's mlThreshold. A disabled classifier
// contributes a negative, non-error result.
func EvaluateML(c Classifier, jpegBytes []byte, stage wire.DetectionStage, policy wire.DetectionPolicy) wire.DetectionResult {
	if c == nil || !c.Enabled() {
		return wire.DetectionResult{StageSource: stage, Reason: "Classifier disabled"}
	}
	confidence, cls, modelVersion := c.Classify(jpegBytes)
	if confidence < policy.MlThreshold || cls == wire.ClassNone {
		return wire.DetectionResult{StageSource: stage, Reason: "Below ML threshold", ModelVersion: modelVersion}
	}
	return wire.DetectionResult{
		IsAiUiDetected: true,
		Confidence:     confidence,
		Class:          cls,
		StageSource:    stage,
		Reason:         "ML classifier positive",
		ModelVersion:   modelVersion,
	}
}
