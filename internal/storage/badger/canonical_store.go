package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CanonicalStore implements the CanonicalStore interface on Badger. It
// holds the published profile tier, separate from the working
// DiscoveredProfile records.
type CanonicalStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCanonicalStore creates a new CanonicalStore instance
func NewCanonicalStore(db *BadgerDB, logger arbor.ILogger) interfaces.CanonicalStore {
	return &CanonicalStore{
		db:     db,
		logger: logger,
	}
}

// Upsert publishes the approved fields for a source profile. A repeat
// approval of the same profile updates the existing canonical record and
// returns its unchanged ID.
func (s *CanonicalStore) Upsert(ctx context.Context, profileID string, fields models.CanonicalFields) (string, error) {
	if profileID == "" {
		return "", fmt.Errorf("profile ID is required")
	}

	var existing []models.CanonicalProfile
	if err := s.db.Store().Find(&existing, badgerhold.Where("ProfileID").Eq(profileID).Limit(1)); err != nil {
		return "", fmt.Errorf("failed to query canonical record: %w", err)
	}

	record := models.NewCanonicalProfile(profileID, fields)
	if len(existing) > 0 {
		record = &existing[0]
		record.Fields = fields
		record.UpdatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return "", fmt.Errorf("failed to write canonical record: %w", err)
	}

	s.logger.Debug().
		Str("canonical_id", record.ID).
		Str("profile_id", profileID).
		Msg("Canonical profile written")
	return record.ID, nil
}
