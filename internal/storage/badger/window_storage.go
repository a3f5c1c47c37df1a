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

// WindowStorage persists governor window snapshots for operator visibility
type WindowStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWindowStorage creates a new WindowStorage instance
func NewWindowStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WindowStorage {
	return &WindowStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WindowStorage) SaveWindow(ctx context.Context, window *models.RateLimitWindow) error {
	if window.Domain == "" {
		return fmt.Errorf("window domain is required")
	}
	window.ID = fmt.Sprintf("%s|%s", window.Domain, window.Granularity)
	window.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(window.ID, window); err != nil {
		return fmt.Errorf("failed to save rate limit window: %w", err)
	}
	return nil
}

func (s *WindowStorage) ListWindows(ctx context.Context, domain string) ([]*models.RateLimitWindow, error) {
	query := badgerhold.Where("ID").Ne("")
	if domain != "" {
		query = badgerhold.Where("Domain").Eq(domain)
	}

	var windows []models.RateLimitWindow
	if err := s.db.Store().Find(&windows, query); err != nil {
		return nil, fmt.Errorf("failed to list rate limit windows: %w", err)
	}

	result := make([]*models.RateLimitWindow, len(windows))
	for i := range windows {
		result[i] = &windows[i]
	}
	return result, nil
}
