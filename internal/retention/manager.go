package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// SweepResult summarizes one retention pass
type SweepResult struct {
	DiscoveredDeleted int
	ExtractedDeleted  int
	JobsDeleted       int
}

// DeletionResult summarizes the handling of one subject deletion request
type DeletionResult struct {
	Deleted    int
	Anonymized int
}

// Manager enforces category retention windows and services subject
// deletion requests. Approved records have no TTL; they leave the system
// only through a deletion request, and then only by anonymization so
// aggregate statistics survive.
type Manager struct {
	profiles interfaces.ProfileStorage
	jobs     interfaces.JobStorage
	logger   arbor.ILogger

	schedule      string
	discoveredTTL time.Duration
	extractedTTL  time.Duration
	jobTTL        time.Duration

	cron *cron.Cron
}

// NewManager creates a retention manager from configuration
func NewManager(profiles interfaces.ProfileStorage, jobs interfaces.JobStorage, config *common.RetentionConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		profiles:      profiles,
		jobs:          jobs,
		logger:        logger,
		schedule:      config.Schedule,
		discoveredTTL: common.ParseDurationOr(config.DiscoveredTTL, 7*24*time.Hour),
		extractedTTL:  common.ParseDurationOr(config.ExtractedTTL, 30*24*time.Hour),
		jobTTL:        common.ParseDurationOr(config.JobTTL, 90*24*time.Hour),
	}
}

// Start schedules the recurring sweep
func (m *Manager) Start() error {
	m.cron = cron.New()
	_, err := m.cron.AddFunc(m.schedule, func() {
		if _, err := m.Sweep(context.Background()); err != nil {
			m.logger.Error().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule '%s': %w", m.schedule, err)
	}
	m.cron.Start()

	m.logger.Info().
		Str("schedule", m.schedule).
		Str("discovered_ttl", m.discoveredTTL.String()).
		Str("extracted_ttl", m.extractedTTL.String()).
		Msg("Retention sweeps scheduled")
	return nil
}

// Stop halts the sweep schedule, waiting for a running sweep to finish
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Sweep deletes records past their category TTL. Approved records are
// never touched. The sweep is idempotent: a second pass over the same
// data deletes nothing.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := time.Now()

	discovered, err := m.profiles.ListProfilesUpdatedBefore(ctx,
		[]models.ProfileStatus{models.ProfileStatusDiscovered},
		now.Add(-m.discoveredTTL))
	if err != nil {
		return result, fmt.Errorf("failed to list expired discovered records: %w", err)
	}
	for _, profile := range discovered {
		if err := m.profiles.DeleteProfile(ctx, profile.ID); err != nil {
			return result, err
		}
		result.DiscoveredDeleted++
	}

	extracted, err := m.profiles.ListProfilesUpdatedBefore(ctx,
		[]models.ProfileStatus{models.ProfileStatusExtracted, models.ProfileStatusValidated, models.ProfileStatusRejected},
		now.Add(-m.extractedTTL))
	if err != nil {
		return result, fmt.Errorf("failed to list expired extracted records: %w", err)
	}
	for _, profile := range extracted {
		if err := m.profiles.DeleteProfile(ctx, profile.ID); err != nil {
			return result, err
		}
		result.ExtractedDeleted++
	}

	jobsDeleted, err := m.jobs.DeleteTerminalJobsBefore(ctx, now.Add(-m.jobTTL))
	if err != nil {
		return result, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	result.JobsDeleted = jobsDeleted

	m.logger.Info().
		Int("discovered_deleted", result.DiscoveredDeleted).
		Int("extracted_deleted", result.ExtractedDeleted).
		Int("jobs_deleted", result.JobsDeleted).
		Msg("Retention sweep completed")
	return result, nil
}

// HandleDeletionRequest removes a subject's data. Approved records are
// anonymized in place; everything else is hard-deleted. Re-running the
// same request is a no-op.
func (m *Manager) HandleDeletionRequest(ctx context.Context, subject string) (DeletionResult, error) {
	var result DeletionResult

	matches, err := m.profiles.FindProfilesBySubject(ctx, subject)
	if err != nil {
		return result, err
	}

	for _, profile := range matches {
		if profile.Anonymized {
			continue
		}
		if profile.Status == models.ProfileStatusApproved {
			anonymize(profile)
			if err := m.profiles.SaveProfile(ctx, profile); err != nil {
				return result, err
			}
			result.Anonymized++
			continue
		}
		if err := m.profiles.DeleteProfile(ctx, profile.ID); err != nil {
			return result, err
		}
		result.Deleted++
	}

	m.logger.Info().
		Int("deleted", result.Deleted).
		Int("anonymized", result.Anonymized).
		Msg("Subject deletion request processed")
	return result, nil
}

// anonymize scrubs every subject-identifying field while keeping the
// record shell for aggregate statistics. The source URL is replaced with
// an opaque marker so the dedup key stays unique.
func anonymize(profile *models.DiscoveredProfile) {
	profile.Anonymized = true
	profile.SourceURL = "anonymized:" + profile.ID
	profile.Extracted = nil
	profile.Enhancement = nil
	profile.Discovery.Query = ""
	if profile.Review != nil {
		profile.Review.Notes = ""
	}
}
