package models

import (
	"time"

	"github.com/google/uuid"
)

// CanonicalProfile is the published profile record. It is written only
// through the review workflow's approval path and re-used across
// approvals of the same source profile.
type CanonicalProfile struct {
	ID string `json:"id" badgerhold:"key"`

	// ProfileID references the DiscoveredProfile the record was published
	// from. One canonical record per source profile.
	ProfileID string `json:"profile_id" badgerholdIndex:"ProfileID"`

	Fields CanonicalFields `json:"fields"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCanonicalProfile creates a published record for a source profile
func NewCanonicalProfile(profileID string, fields CanonicalFields) *CanonicalProfile {
	now := time.Now()
	return &CanonicalProfile{
		ID:        "canon_" + uuid.New().String(),
		ProfileID: profileID,
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
