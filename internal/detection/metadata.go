package detection

import (
	"sort"
	"strings"

	"github.com/controledu/classroom/internal/wire"
)

// Observation is the per-evaluation snapshot fed into Stage B/C.
type Observation struct {
	ActiveProcessName string
	ActiveWindowTitle string
	BrowserHintURL    string
}

// EvaluateMetadata implements Stage B: a whitelist check followed by
// a keyword scan over the lower-cased concatenation of the observation
// fields.
func EvaluateMetadata(obs Observation, policy wire.DetectionPolicy) wire.DetectionResult {
	haystack := strings.ToLower(obs.ActiveProcessName + " " + obs.ActiveWindowTitle + " " + obs.BrowserHintURL)

	for _, term := range policy.WhitelistKeywords {
		if term == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(term)) {
			return wire.DetectionResult{
				IsAiUiDetected: false,
				StageSource:    wire.StageMetadataRule,
				Reason:         "Whitelist match",
			}
		}
	}

	var matched []string
	classVotes := map[wire.DetectionClass]int{}
	for _, kw := range policy.Keywords {
		if kw == "" {
			continue
		}
		lkw := strings.ToLower(kw)
		if !strings.Contains(haystack, lkw) {
			continue
		}
		matched = append(matched, kw)
		cls, ok := keywordClass[lkw]
		if !ok {
			cls = wire.ClassUnknownAi
		}
		classVotes[cls]++
	}

	if len(matched) == 0 {
		return wire.DetectionResult{
			IsAiUiDetected: false,
			StageSource:    wire.StageMetadataRule,
			Reason:         "No keyword match",
		}
	}

	cls := pluralityClass(classVotes)
	confidence := 0.62 + 0.08*float64(len(matched))
	if confidence > 0.98 {
		confidence = 0.98
	}
	if obs.BrowserHintURL != "" {
		confidence += 0.08
		if confidence > 1 {
			confidence = 1
		}
	}

	sort.Strings(matched)
	return wire.DetectionResult{
		IsAiUiDetected:    true,
		Confidence:        confidence,
		Class:             cls,
		StageSource:       wire.StageMetadataRule,
		Reason:            "Keyword match",
		TriggeredKeywords: matched,
	}
}

// pluralityClass returns the class with the most votes, skipping
// ClassUnknownAi unless it is the only class observed, so a single mapped
// match outranks incidental unmapped noise. Ties break on the lowest
// DetectionClass ordinal for determinism.
func pluralityClass(votes map[wire.DetectionClass]int) wire.DetectionClass {
	best := wire.ClassUnknownAi
	bestVotes := -1
	haveMapped := false
	for cls := range votes {
		if cls != wire.ClassUnknownAi {
			haveMapped = true
		}
	}
	for cls, n := range votes {
		if haveMapped && cls == wire.ClassUnknownAi {
			continue
		}
		if n > bestVotes || (n == bestVotes && cls < best) {
			best, bestVotes = cls, n
		}
	}
	return best
}
