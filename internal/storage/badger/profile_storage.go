package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrProfileNotFound is returned when a profile lookup misses
var ErrProfileNotFound = fmt.Errorf("profile not found")

// ProfileStorage implements the ProfileStorage interface for Badger
type ProfileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProfileStorage creates a new ProfileStorage instance
func NewProfileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProfileStorage {
	return &ProfileStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProfileStorage) SaveProfile(ctx context.Context, profile *models.DiscoveredProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile ID is required")
	}
	if profile.SourceURL == "" {
		return fmt.Errorf("profile source URL is required")
	}

	profile.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(profile.ID, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *ProfileStorage) GetProfile(ctx context.Context, profileID string) (*models.DiscoveredProfile, error) {
	var profile models.DiscoveredProfile
	if err := s.db.Store().Get(profileID, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// GetProfileByURL looks up the record for a normalized source URL. The URL is
// the dedup key: at most one record exists per URL.
func (s *ProfileStorage) GetProfileByURL(ctx context.Context, normalizedURL string) (*models.DiscoveredProfile, error) {
	var profiles []models.DiscoveredProfile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("SourceURL").Eq(normalizedURL).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query profile by URL: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, normalizedURL)
	}
	return &profiles[0], nil
}

func (s *ProfileStorage) ListProfiles(ctx context.Context, opts *interfaces.ProfileListOptions) ([]*models.DiscoveredProfile, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.ProfileStatus(opts.Status))
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var profiles []models.DiscoveredProfile
	if err := s.db.Store().Find(&profiles, query); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	result := make([]*models.DiscoveredProfile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}

func (s *ProfileStorage) ListProfilesUpdatedBefore(ctx context.Context, statuses []models.ProfileStatus, cutoff time.Time) ([]*models.DiscoveredProfile, error) {
	statusSet := make(map[models.ProfileStatus]bool, len(statuses))
	for _, st := range statuses {
		statusSet[st] = true
	}

	var profiles []models.DiscoveredProfile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("UpdatedAt").Lt(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to query expired profiles: %w", err)
	}

	var result []*models.DiscoveredProfile
	for i := range profiles {
		if statusSet[profiles[i].Status] {
			result = append(result, &profiles[i])
		}
	}
	return result, nil
}

// FindProfilesBySubject matches records by extracted identity name,
// case-insensitively. Used to service subject deletion requests.
func (s *ProfileStorage) FindProfilesBySubject(ctx context.Context, subject string) ([]*models.DiscoveredProfile, error) {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return nil, fmt.Errorf("subject identifier is required")
	}

	var profiles []models.DiscoveredProfile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to scan profiles for subject: %w", err)
	}

	var result []*models.DiscoveredProfile
	for i := range profiles {
		p := &profiles[i]
		if strings.ToLower(p.SubjectName()) == subject || strings.Contains(strings.ToLower(p.SourceURL), subject) {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *ProfileStorage) DeleteProfile(ctx context.Context, profileID string) error {
	if err := s.db.Store().Delete(profileID, &models.DiscoveredProfile{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}
