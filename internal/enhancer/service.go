package enhancer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

const systemPrompt = `You analyze professional profile data and produce a concise synthesis.
Respond with a single JSON object and nothing else, matching this schema exactly:
{
  "summary": string,
  "core_expertise": [string],
  "industry_focus": [string],
  "years_experience": number,
  "key_achievements": [string],
  "specializations": [string],
  "unique_value": string,
  "confidence": number between 0 and 1,
  "data_quality": number between 0 and 1
}
Base every statement only on the provided data. Leave fields empty rather than inventing facts.`

// enhancementResponse is the JSON schema the model is asked to produce
type enhancementResponse struct {
	Summary         string   `json:"summary"`
	CoreExpertise   []string `json:"core_expertise"`
	IndustryFocus   []string `json:"industry_focus"`
	YearsExperience int      `json:"years_experience"`
	KeyAchievements []string `json:"key_achievements"`
	Specializations []string `json:"specializations"`
	UniqueValue     string   `json:"unique_value"`
	Confidence      float64  `json:"confidence"`
	DataQuality     float64  `json:"data_quality"`
}

// Service turns extracted profile data into synthesized narrative fields.
// Enhancement is strictly additive: any failure yields a fallback marker,
// never an error, and never touches the extracted data.
type Service struct {
	provider  interfaces.EnhancementProvider
	maxPrompt int
	logger    arbor.ILogger
}

// NewService creates the enhancement service
func NewService(provider interfaces.EnhancementProvider, config *common.EnhancerConfig, logger arbor.ILogger) *Service {
	maxPrompt := config.MaxPrompt
	if maxPrompt <= 0 {
		maxPrompt = 8000
	}
	return &Service{
		provider:  provider,
		maxPrompt: maxPrompt,
		logger:    logger,
	}
}

// Enhance produces the narrative synthesis for one extracted profile.
// On any provider or parse failure the returned meta carries Confidence=0
// and FallbackUsed=true so downstream stages can proceed.
func (s *Service) Enhance(ctx context.Context, profile *models.ExtractedProfile, rawText string) *models.EnhancementMeta {
	prompt := s.buildPrompt(profile, rawText)

	response, err := s.provider.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("provider", s.provider.Name()).
			Msg("Enhancement failed, using fallback")
		return s.fallback()
	}

	parsed, err := parseEnhancementResponse(response)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("provider", s.provider.Name()).
			Int("response_length", len(response)).
			Msg("Enhancement response unparseable, using fallback")
		return s.fallback()
	}

	meta := &models.EnhancementMeta{
		Summary:         parsed.Summary,
		CoreExpertise:   parsed.CoreExpertise,
		IndustryFocus:   parsed.IndustryFocus,
		YearsExperience: parsed.YearsExperience,
		KeyAchievements: parsed.KeyAchievements,
		Specializations: parsed.Specializations,
		UniqueValue:     parsed.UniqueValue,
		Confidence:      clamp01(parsed.Confidence),
		DataQuality:     clamp01(parsed.DataQuality),
		Provider:        s.provider.Name(),
		Model:           s.provider.Model(),
		EnhancedAt:      time.Now(),
	}
	if meta.YearsExperience < 0 {
		meta.YearsExperience = 0
	}

	s.logger.Debug().
		Float64("confidence", meta.Confidence).
		Float64("data_quality", meta.DataQuality).
		Msg("Profile enhanced")
	return meta
}

// fallback is the degraded-path result: downstream validation treats it as
// an absent enhancement.
func (s *Service) fallback() *models.EnhancementMeta {
	return &models.EnhancementMeta{
		Confidence:   0,
		FallbackUsed: true,
		Provider:     s.provider.Name(),
		Model:        s.provider.Model(),
		EnhancedAt:   time.Now(),
	}
}

// buildPrompt bundles the structured fields with a truncated raw-text
// excerpt so the prompt stays within budget.
func (s *Service) buildPrompt(profile *models.ExtractedProfile, rawText string) string {
	var b strings.Builder
	b.WriteString("Structured profile data:\n")

	structured, err := json.MarshalIndent(profile, "", "  ")
	if err == nil {
		b.Write(structured)
	} else {
		fmt.Fprintf(&b, "name: %s\nheadline: %s\nlocation: %s\n", profile.Identity, profile.Headline, profile.Location)
	}

	if rawText != "" {
		if len(rawText) > s.maxPrompt {
			rawText = rawText[:s.maxPrompt]
		}
		b.WriteString("\n\nRaw page text excerpt:\n")
		b.WriteString(rawText)
	}
	return b.String()
}

// parseEnhancementResponse extracts and decodes the first balanced JSON
// object from a model response, tolerating prose or fences around it.
func parseEnhancementResponse(response string) (*enhancementResponse, error) {
	payload, ok := firstBalancedJSON(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var parsed enhancementResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode enhancement JSON: %w", err)
	}
	return &parsed, nil
}

// firstBalancedJSON returns the first brace-balanced object in s, honoring
// string literals and escapes.
func firstBalancedJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
