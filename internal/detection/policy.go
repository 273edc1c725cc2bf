// Package detection implements the student-side four-stage AI-UI detector:
// a perceptual-hash frame-change prefilter, a metadata keyword rule,
// optional ML classifiers, and a temporal voting smoother with cooldown.
// Each stage is a cheap local check gating a more expensive one.
package detection

import "github.com/controledu/classroom/internal/wire"

// ProductionPolicy returns the fixed policy the hub always serves.
// GetDetectionPolicy never reflects a persisted override, to prevent
// UI-driven downgrades.
func ProductionPolicy() wire.DetectionPolicy {
	return wire.DetectionPolicy{
		Enabled:                   true,
		EvaluationIntervalSeconds: 5,
		FrameChangeThreshold:      2,
		MinRecheckIntervalSeconds: 120,
		MetadataThreshold:         0.6,
		MlThreshold:               0.75,
		TemporalWindowSize:        3,
		TemporalRequiredVotes:     2,
		CooldownSeconds:           10,
		Keywords: []string{
			"chatgpt", "chat.openai.com", "claude.ai", "claude", "gemini",
			"bard", "copilot", "perplexity.ai", "perplexity", "deepseek",
			"poe.com", "grok", "qwen", "mistral.ai", "meta.ai",
		},
		WhitelistKeywords: []string{},
		CollectFrameBytes: false,
		CollectThumbnails: false,
		ThumbnailWidth:    160,
		ThumbnailHeight:   90,
		PolicyVersion:     1,
	}
}

// keywordClass maps a lower-cased matched keyword substring to its
// DetectionClass. Unmapped positives collapse to
// ClassUnknownAi in metadata.go.
var keywordClass = map[string]wire.DetectionClass{
	"chatgpt":         wire.ClassChatGpt,
	"chat.openai.com": wire.ClassChatGpt,
	"openai":          wire.ClassChatGpt,
	"claude.ai":       wire.ClassClaude,
	"claude":          wire.ClassClaude,
	"gemini":          wire.ClassGemini,
	"bard":            wire.ClassGemini,
	"copilot":         wire.ClassCopilot,
	"perplexity.ai":   wire.ClassPerplexity,
	"perplexity":      wire.ClassPerplexity,
	"deepseek":        wire.ClassDeepSeek,
	"poe.com":         wire.ClassPoe,
	"poe":             wire.ClassPoe,
	"grok":            wire.ClassGrok,
	"qwen":            wire.ClassQwen,
	"mistral.ai":      wire.ClassMistral,
	"mistral":         wire.ClassMistral,
	"meta.ai":         wire.ClassMetaAi,
}
