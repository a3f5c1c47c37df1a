package enhancer

import (
	"context"
	"errors"
	"testing"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
)

// stubProvider returns a canned completion or error
type stubProvider struct {
	response string
	err      error
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }
func (p *stubProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return p.response, p.err
}

func testProfile() *models.ExtractedProfile {
	return &models.ExtractedProfile{
		Identity: "Jane Doe",
		Headline: "Staff Engineer",
		Location: "Berlin",
	}
}

func newService(provider *stubProvider) *Service {
	return NewService(provider, &common.EnhancerConfig{MaxPrompt: 100}, common.GetLogger())
}

func TestEnhanceParsesWellFormedResponse(t *testing.T) {
	provider := &stubProvider{response: `{
		"summary": "Seasoned engineer.",
		"core_expertise": ["distributed systems"],
		"years_experience": 9,
		"unique_value": "Depth in storage",
		"confidence": 0.85,
		"data_quality": 0.7
	}`}

	meta := newService(provider).Enhance(context.Background(), testProfile(), "raw text")
	if meta.FallbackUsed {
		t.Fatal("FallbackUsed should be false for a valid response")
	}
	if meta.Summary != "Seasoned engineer." || meta.YearsExperience != 9 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Confidence != 0.85 || meta.DataQuality != 0.7 {
		t.Errorf("scores: conf=%v quality=%v", meta.Confidence, meta.DataQuality)
	}
	if meta.Provider != "stub" || meta.Model != "stub-model" {
		t.Errorf("provenance: %s/%s", meta.Provider, meta.Model)
	}
}

func TestEnhanceToleratesProseAroundJSON(t *testing.T) {
	provider := &stubProvider{response: "Here is the analysis:\n```json\n" +
		`{"summary": "Short.", "confidence": 0.5, "data_quality": 0.5}` +
		"\n```\nLet me know if you need more."}

	meta := newService(provider).Enhance(context.Background(), testProfile(), "")
	if meta.FallbackUsed {
		t.Fatal("prose-wrapped JSON should still parse")
	}
	if meta.Summary != "Short." {
		t.Errorf("Summary = %q", meta.Summary)
	}
}

func TestEnhanceClampsScores(t *testing.T) {
	provider := &stubProvider{response: `{"confidence": 1.7, "data_quality": -0.3, "years_experience": -2}`}

	meta := newService(provider).Enhance(context.Background(), testProfile(), "")
	if meta.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", meta.Confidence)
	}
	if meta.DataQuality != 0 {
		t.Errorf("DataQuality = %v, want clamped to 0", meta.DataQuality)
	}
	if meta.YearsExperience != 0 {
		t.Errorf("YearsExperience = %v, want 0", meta.YearsExperience)
	}
}

func TestEnhanceFallsBackOnProviderError(t *testing.T) {
	provider := &stubProvider{err: errors.New("rate limited")}

	meta := newService(provider).Enhance(context.Background(), testProfile(), "")
	if meta == nil {
		t.Fatal("fallback must never be nil")
	}
	if !meta.FallbackUsed || meta.Confidence != 0 {
		t.Errorf("fallback meta = %+v", meta)
	}
}

func TestEnhanceFallsBackOnGarbageResponse(t *testing.T) {
	for _, response := range []string{"", "no json here", `{"unterminated": `} {
		provider := &stubProvider{response: response}
		meta := newService(provider).Enhance(context.Background(), testProfile(), "")
		if !meta.FallbackUsed {
			t.Errorf("response %q should trigger fallback", response)
		}
	}
}

func TestFirstBalancedJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"nested braces", `x {"a":{"b":2}} y {"c":3}`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"escaped quote", `{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"no object", "plain text", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstBalancedJSON(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("firstBalancedJSON(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}
