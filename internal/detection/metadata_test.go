package detection

import (
	"testing"

	"github.com/controledu/classroom/internal/wire"
)

// Keyword "ChatGPT" in title maps to ChatGpt; the same
// title alongside a whitelisted browser hint is suppressed.
func TestEvaluateMetadataKeywordMatch(t *testing.T) {
	policy := ProductionPolicy()
	result := EvaluateMetadata(Observation{ActiveWindowTitle: "ChatGPT - Google Chrome"}, policy)
	if !result.IsAiUiDetected {
		t.Fatalf("expected positive detection")
	}
	if result.Class != wire.ClassChatGpt {
		t.Errorf("Class = %v, want ChatGpt", result.Class)
	}
	if result.StageSource != wire.StageMetadataRule {
		t.Errorf("StageSource = %v, want MetadataRule", result.StageSource)
	}
}

func TestEvaluateMetadataWhitelistSuppresses(t *testing.T) {
	policy := ProductionPolicy()
	policy.WhitelistKeywords = []string{"internal-helpdesk.local"}
	result := EvaluateMetadata(Observation{
		ActiveWindowTitle: "ChatGPT - Google Chrome",
		BrowserHintURL:    "https://internal-helpdesk.local/tickets/42",
	}, policy)
	if result.IsAiUiDetected {
		t.Errorf("expected whitelist to suppress detection, got %+v", result)
	}
	if result.Reason != "Whitelist match" {
		t.Errorf("Reason = %q, want %q", result.Reason, "Whitelist match")
	}
}

func TestEvaluateMetadataNoMatch(t *testing.T) {
	policy := ProductionPolicy()
	result := EvaluateMetadata(Observation{ActiveWindowTitle: "Notepad"}, policy)
	if result.IsAiUiDetected {
		t.Errorf("expected no match, got %+v", result)
	}
}

func TestEvaluateMetadataUnmappedKeywordCollapsesToUnknown(t *testing.T) {
	policy := ProductionPolicy()
	policy.Keywords = []string{"totallynewaitool"}
	result := EvaluateMetadata(Observation{ActiveWindowTitle: "TotallyNewAiTool"}, policy)
	if !result.IsAiUiDetected {
		t.Fatalf("expected positive detection")
	}
	if result.Class != wire.ClassUnknownAi {
		t.Errorf("Class = %v, want UnknownAi", result.Class)
	}
}

func TestEvaluateMetadataUrlHintBoostsConfidence(t *testing.T) {
	policy := ProductionPolicy()
	withoutURL := EvaluateMetadata(Observation{ActiveWindowTitle: "Claude"}, policy)
	withURL := EvaluateMetadata(Observation{ActiveWindowTitle: "Claude", BrowserHintURL: "https://claude.ai/chat"}, policy)
	if withURL.Confidence <= withoutURL.Confidence {
		t.Errorf("URL hint did not boost confidence: %v vs %v", withURL.Confidence, withoutURL.Confidence)
	}
}
