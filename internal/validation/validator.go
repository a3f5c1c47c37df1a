package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
)

// fieldWeights drive the overall confidence score. Identity and work
// history carry the most signal.
var fieldWeights = map[string]float64{
	"identity":   0.25,
	"headline":   0.15,
	"location":   0.10,
	"summary":    0.15,
	"experience": 0.20,
	"education":  0.10,
	"skills":     0.05,
}

// expectedFields is the denominator of the completeness score
var expectedFields = []string{"identity", "headline", "location", "summary", "experience", "education", "skills"}

// ReviewPolicy holds the thresholds that route a record to manual review
type ReviewPolicy struct {
	MinConfidence   float64
	MinCompleteness float64
	MaxWarnings     int
}

// Validator scores extracted profiles and routes them to auto-accept or
// manual review. Validation never mutates the profile data; it produces a
// fresh ValidationResult each pass.
type Validator struct {
	policy ReviewPolicy
	logger arbor.ILogger
}

// NewValidator creates a validator with the configured review policy
func NewValidator(config *common.ReviewConfig, logger arbor.ILogger) *Validator {
	policy := ReviewPolicy{
		MinConfidence:   config.MinConfidence,
		MinCompleteness: config.MinCompleteness,
		MaxWarnings:     config.MaxWarnings,
	}
	if policy.MinConfidence == 0 {
		policy.MinConfidence = 0.7
	}
	if policy.MinCompleteness == 0 {
		policy.MinCompleteness = 0.6
	}
	if policy.MaxWarnings == 0 {
		policy.MaxWarnings = 5
	}
	return &Validator{policy: policy, logger: logger}
}

// Validate scores one profile. Missing required fields produce hard
// errors; everything else degrades to warnings and lower scores.
func (v *Validator) Validate(profile *models.DiscoveredProfile) *models.ValidationResult {
	result := &models.ValidationResult{
		FieldScores: make(map[string]float64),
		ValidatedAt: time.Now(),
	}

	extracted := profile.Extracted
	if extracted == nil {
		result.Errors = append(result.Errors, "no extracted data present")
		result.NeedsManualReview = true
		return result
	}

	result.FieldScores["identity"] = v.scoreIdentity(extracted.Identity, result)
	result.FieldScores["headline"] = v.scoreRequiredText("headline", extracted.Headline, 300, result)
	result.FieldScores["location"] = v.scoreRequiredText("location", extracted.Location, 200, result)
	result.FieldScores["summary"] = v.scoreSummary(extracted.Summary, result)
	result.FieldScores["experience"] = v.scoreExperience(extracted.Experience, result)
	result.FieldScores["education"] = v.scoreEducation(extracted.Education, result)
	result.FieldScores["skills"] = v.scoreSkills(extracted.Skills, result)

	populated := 0
	for _, field := range expectedFields {
		if result.FieldScores[field] > 0 {
			populated++
		}
	}
	result.CompletenessScore = float64(populated) / float64(len(expectedFields))

	confidence := 0.0
	for field, weight := range fieldWeights {
		confidence += weight * result.FieldScores[field]
	}
	result.ConfidenceScore = confidence

	if profile.Enhancement != nil && profile.Enhancement.FallbackUsed {
		result.Warnings = append(result.Warnings, "enhancement unavailable, narrative fields missing")
	}

	result.IsValid = len(result.Errors) == 0
	result.NeedsManualReview = !result.IsValid ||
		result.ConfidenceScore < v.policy.MinConfidence ||
		result.CompletenessScore < v.policy.MinCompleteness ||
		len(result.Warnings) > v.policy.MaxWarnings

	v.logger.Debug().
		Str("profile_id", profile.ID).
		Float64("confidence", result.ConfidenceScore).
		Float64("completeness", result.CompletenessScore).
		Bool("needs_review", result.NeedsManualReview).
		Msg("Profile validated")
	return result
}

// scoreIdentity requires a plausible display name
func (v *Validator) scoreIdentity(identity string, result *models.ValidationResult) float64 {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		result.Errors = append(result.Errors, "identity is required")
		return 0
	}
	if len(identity) < 2 || len(identity) > 200 {
		result.Errors = append(result.Errors, fmt.Sprintf("identity length %d outside 2-200", len(identity)))
		return 0
	}
	if !strings.Contains(identity, " ") {
		result.Warnings = append(result.Warnings, "identity is a single token")
		return 0.6
	}
	return 1
}

// scoreRequiredText scores a required free-text field with a length cap
func (v *Validator) scoreRequiredText(field, value string, maxLen int, result *models.ValidationResult) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		result.Errors = append(result.Errors, field+" is required")
		return 0
	}
	if len(value) > maxLen {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s exceeds %d characters", field, maxLen))
		return 0.7
	}
	return 1
}

func (v *Validator) scoreSummary(summary string, result *models.ValidationResult) float64 {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return 0
	}
	if len(summary) < 20 {
		result.Warnings = append(result.Warnings, "summary is very short")
		return 0.5
	}
	return 1
}

func (v *Validator) scoreExperience(entries []models.ExperienceEntry, result *models.ValidationResult) float64 {
	if len(entries) == 0 {
		return 0
	}
	sound := 0
	for _, entry := range entries {
		if entry.Title != "" && entry.Organization != "" {
			sound++
		}
	}
	if sound < len(entries) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d of %d experience entries are incomplete", len(entries)-sound, len(entries)))
	}
	return float64(sound) / float64(len(entries))
}

func (v *Validator) scoreEducation(entries []models.EducationEntry, result *models.ValidationResult) float64 {
	if len(entries) == 0 {
		return 0
	}
	sound := 0
	for _, entry := range entries {
		if entry.Institution != "" {
			sound++
		}
	}
	return float64(sound) / float64(len(entries))
}

func (v *Validator) scoreSkills(skills []string, result *models.ValidationResult) float64 {
	if len(skills) == 0 {
		return 0
	}
	if len(skills) > 50 {
		result.Warnings = append(result.Warnings, "implausibly long skills list")
		return 0.5
	}
	return 1
}
