package review

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// validTransitions encodes the review state machine. needs_changes -> pending
// is the only backward edge; approved and rejected are terminal.
var validTransitions = map[models.ReviewState][]models.ReviewState{
	models.ReviewStatePending:      {models.ReviewStateInReview},
	models.ReviewStateInReview:     {models.ReviewStateApproved, models.ReviewStateRejected, models.ReviewStateNeedsChanges},
	models.ReviewStateNeedsChanges: {models.ReviewStatePending},
}

// Workflow drives profiles through human sign-off. Approval is the single
// place the canonical profile tier is written.
type Workflow struct {
	profiles  interfaces.ProfileStorage
	canonical interfaces.CanonicalStore
	logger    arbor.ILogger
}

// NewWorkflow creates the review workflow
func NewWorkflow(profiles interfaces.ProfileStorage, canonical interfaces.CanonicalStore, logger arbor.ILogger) *Workflow {
	return &Workflow{
		profiles:  profiles,
		canonical: canonical,
		logger:    logger,
	}
}

// EnterReview puts a validated profile into the review queue
func (w *Workflow) EnterReview(ctx context.Context, profileID string) (*models.DiscoveredProfile, error) {
	profile, err := w.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Status != models.ProfileStatusValidated {
		return nil, fmt.Errorf("profile %s in status %s cannot enter review", profileID, profile.Status)
	}
	if profile.Review != nil && profile.Review.State.IsTerminal() {
		return nil, fmt.Errorf("profile %s review already finalized as %s", profileID, profile.Review.State)
	}

	profile.Review = &models.ReviewMeta{State: models.ReviewStatePending}
	if err := w.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// StartReview claims a pending record for a reviewer
func (w *Workflow) StartReview(ctx context.Context, profileID, reviewer string) (*models.DiscoveredProfile, error) {
	return w.transition(ctx, profileID, models.ReviewStateInReview, reviewer, "")
}

// Approve finalizes a record, writes it to the canonical store and stamps
// the canonical reference. The DiscoveredProfile is retained as provenance.
func (w *Workflow) Approve(ctx context.Context, profileID, reviewer, notes string) (*models.DiscoveredProfile, error) {
	profile, err := w.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if err := w.checkTransition(profile, models.ReviewStateApproved); err != nil {
		return nil, err
	}

	canonicalID, err := w.canonical.Upsert(ctx, profile.ID, canonicalFields(profile))
	if err != nil {
		return nil, fmt.Errorf("canonical store write failed, approval aborted: %w", err)
	}

	now := time.Now()
	profile.Review.State = models.ReviewStateApproved
	profile.Review.Reviewer = reviewer
	profile.Review.Notes = notes
	profile.Review.ReviewedAt = &now
	profile.Status = models.ProfileStatusApproved
	profile.CanonicalID = canonicalID

	if err := w.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}

	w.logger.Info().
		Str("profile_id", profile.ID).
		Str("canonical_id", canonicalID).
		Str("reviewer", reviewer).
		Msg("Profile approved and published to canonical store")
	return profile, nil
}

// Reject finalizes a record as unusable
func (w *Workflow) Reject(ctx context.Context, profileID, reviewer, notes string) (*models.DiscoveredProfile, error) {
	profile, err := w.transition(ctx, profileID, models.ReviewStateRejected, reviewer, notes)
	if err != nil {
		return nil, err
	}
	profile.Status = models.ProfileStatusRejected
	if err := w.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// RequestChanges sends a record back for rework; a later EnterReview-style
// resubmission moves it to pending again.
func (w *Workflow) RequestChanges(ctx context.Context, profileID, reviewer, notes string) (*models.DiscoveredProfile, error) {
	return w.transition(ctx, profileID, models.ReviewStateNeedsChanges, reviewer, notes)
}

// Resubmit returns a needs_changes record to the pending queue
func (w *Workflow) Resubmit(ctx context.Context, profileID string) (*models.DiscoveredProfile, error) {
	return w.transition(ctx, profileID, models.ReviewStatePending, "", "")
}

func (w *Workflow) transition(ctx context.Context, profileID string, to models.ReviewState, reviewer, notes string) (*models.DiscoveredProfile, error) {
	profile, err := w.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if err := w.checkTransition(profile, to); err != nil {
		return nil, err
	}

	now := time.Now()
	profile.Review.State = to
	if reviewer != "" {
		profile.Review.Reviewer = reviewer
	}
	if notes != "" {
		profile.Review.Notes = notes
	}
	profile.Review.ReviewedAt = &now

	if err := w.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}

	w.logger.Info().
		Str("profile_id", profile.ID).
		Str("state", string(to)).
		Msg("Review state changed")
	return profile, nil
}

func (w *Workflow) checkTransition(profile *models.DiscoveredProfile, to models.ReviewState) error {
	if profile.Review == nil {
		return fmt.Errorf("profile %s has not entered review", profile.ID)
	}
	for _, allowed := range validTransitions[profile.Review.State] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal review transition %s -> %s for profile %s", profile.Review.State, to, profile.ID)
}

// canonicalFields projects the approved record onto the canonical write
// contract, preferring enhanced narrative fields where present.
func canonicalFields(profile *models.DiscoveredProfile) models.CanonicalFields {
	fields := models.CanonicalFields{SourceURL: profile.SourceURL}
	if profile.Extracted != nil {
		fields.Name = profile.Extracted.Identity
		fields.Headline = profile.Extracted.Headline
		fields.Location = profile.Extracted.Location
		fields.Summary = profile.Extracted.Summary
	}
	if profile.Enhancement != nil && !profile.Enhancement.FallbackUsed {
		if profile.Enhancement.Summary != "" {
			fields.Summary = profile.Enhancement.Summary
		}
		fields.CoreExpertise = profile.Enhancement.CoreExpertise
		fields.YearsExperience = profile.Enhancement.YearsExperience
	}
	return fields
}
