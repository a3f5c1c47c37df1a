package models

import (
	"time"

	"github.com/google/uuid"
)

// ProfileStatus tracks a discovered profile through the pipeline
type ProfileStatus string

const (
	ProfileStatusDiscovered ProfileStatus = "discovered"
	ProfileStatusExtracted  ProfileStatus = "extracted"
	ProfileStatusValidated  ProfileStatus = "validated"
	ProfileStatusApproved   ProfileStatus = "approved"
	ProfileStatusRejected   ProfileStatus = "rejected"
)

// ReviewState is the human sign-off state machine
type ReviewState string

const (
	ReviewStatePending      ReviewState = "pending"
	ReviewStateInReview     ReviewState = "in_review"
	ReviewStateApproved     ReviewState = "approved"
	ReviewStateRejected     ReviewState = "rejected"
	ReviewStateNeedsChanges ReviewState = "needs_changes"
)

// IsTerminal reports whether a review state is final
func (s ReviewState) IsTerminal() bool {
	return s == ReviewStateApproved || s == ReviewStateRejected
}

// DiscoveryMeta records how a candidate URL was surfaced
type DiscoveryMeta struct {
	Query        string    `json:"query"`
	Provider     string    `json:"provider"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Confidence   float64   `json:"confidence"` // 0-1 match estimate against the criteria
}

// ExperienceEntry is one role in a profile's work history
type ExperienceEntry struct {
	Title        string `json:"title"`
	Organization string `json:"organization"`
	DateRange    string `json:"date_range,omitempty"`
	Description  string `json:"description,omitempty"`
}

// EducationEntry is one entry in a profile's education history
type EducationEntry struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree,omitempty"`
	DateRange   string `json:"date_range,omitempty"`
}

// ExtractedProfile is the structured field bundle parsed from a profile page
type ExtractedProfile struct {
	Identity       string            `json:"identity"`
	Headline       string            `json:"headline"`
	Location       string            `json:"location"`
	Summary        string            `json:"summary,omitempty"`
	Experience     []ExperienceEntry `json:"experience,omitempty"`
	Education      []EducationEntry  `json:"education,omitempty"`
	Skills         []string          `json:"skills,omitempty"`
	Certifications []string          `json:"certifications,omitempty"`
	Publications   []string          `json:"publications,omitempty"`
	Languages      []string          `json:"languages,omitempty"`

	FieldsExtracted []string  `json:"fields_extracted"` // Names of fields that were actually obtained
	ExtractedAt     time.Time `json:"extracted_at"`
}

// EnhancementMeta carries the synthesized narrative fields from the
// text-generation service, or the fallback marker when enhancement failed.
type EnhancementMeta struct {
	Summary         string    `json:"summary,omitempty"`
	CoreExpertise   []string  `json:"core_expertise,omitempty"`
	IndustryFocus   []string  `json:"industry_focus,omitempty"`
	YearsExperience int       `json:"years_experience,omitempty"`
	KeyAchievements []string  `json:"key_achievements,omitempty"`
	Specializations []string  `json:"specializations,omitempty"`
	UniqueValue     string    `json:"unique_value,omitempty"`
	Confidence      float64   `json:"confidence"`
	DataQuality     float64   `json:"data_quality"`
	FallbackUsed    bool      `json:"fallback_used"`
	Provider        string    `json:"provider,omitempty"`
	Model           string    `json:"model,omitempty"`
	EnhancedAt      time.Time `json:"enhanced_at"`
}

// ValidationResult is the per-record scoring artifact. It is computed fresh
// on every validation pass and replaced wholesale, never partially updated.
type ValidationResult struct {
	IsValid           bool               `json:"is_valid"`
	FieldScores       map[string]float64 `json:"field_scores"`
	ConfidenceScore   float64            `json:"confidence_score"`
	CompletenessScore float64            `json:"completeness_score"`
	NeedsManualReview bool               `json:"needs_manual_review"`
	Errors            []string           `json:"errors,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
	ValidatedAt       time.Time          `json:"validated_at"`
}

// ReviewMeta records the human (or policy) sign-off trail
type ReviewMeta struct {
	State      ReviewState `json:"state"`
	Reviewer   string      `json:"reviewer,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	ReviewedAt *time.Time  `json:"reviewed_at,omitempty"`
}

// DiscoveredProfile is a candidate/extracted profile record. The normalized
// SourceURL is the dedup key: repeat discoveries update confidence and
// metadata of the existing record instead of creating duplicates.
type DiscoveredProfile struct {
	ID        string `json:"id" badgerhold:"key"`
	SourceURL string `json:"source_url" badgerholdIndex:"SourceURL"` // Normalized, unique

	Status    ProfileStatus `json:"status" badgerholdIndex:"Status"`
	Discovery DiscoveryMeta `json:"discovery"`

	Extracted   *ExtractedProfile `json:"extracted,omitempty"`
	Enhancement *EnhancementMeta  `json:"enhancement,omitempty"`
	Validation  *ValidationResult `json:"validation,omitempty"`
	Review      *ReviewMeta       `json:"review,omitempty"`

	// CanonicalID references the downstream profile store record; set only on
	// approval. The DiscoveredProfile itself is retained as provenance.
	CanonicalID string `json:"canonical_id,omitempty"`

	// Anonymized marks a record scrubbed by a subject deletion request; it is
	// kept for aggregate statistics only.
	Anonymized bool `json:"anonymized,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDiscoveredProfile creates a record in the discovered state
func NewDiscoveredProfile(sourceURL string, meta DiscoveryMeta) *DiscoveredProfile {
	now := time.Now()
	return &DiscoveredProfile{
		ID:        "prof_" + uuid.New().String(),
		SourceURL: sourceURL,
		Status:    ProfileStatusDiscovered,
		Discovery: meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SubjectName returns the best-known display name for the record's subject,
// used to match deletion requests.
func (p *DiscoveredProfile) SubjectName() string {
	if p.Extracted != nil && p.Extracted.Identity != "" {
		return p.Extracted.Identity
	}
	return ""
}

// CanonicalFields is the write contract with the downstream profile store,
// invoked only from the review workflow's approved transition.
type CanonicalFields struct {
	Name            string   `json:"name"`
	Headline        string   `json:"headline"`
	Location        string   `json:"location"`
	Summary         string   `json:"summary,omitempty"`
	CoreExpertise   []string `json:"core_expertise,omitempty"`
	YearsExperience int      `json:"years_experience,omitempty"`
	SourceURL       string   `json:"source_url"`
}
