package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	job     interfaces.JobStorage
	profile interfaces.ProfileStorage
	window  interfaces.WindowStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		job:     NewJobStorage(db, logger),
		profile: NewProfileStorage(db, logger),
		window:  NewWindowStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ProfileStorage returns the DiscoveredProfile storage interface
func (m *Manager) ProfileStorage() interfaces.ProfileStorage {
	return m.profile
}

// WindowStorage returns the RateLimitWindow storage interface
func (m *Manager) WindowStorage() interfaces.WindowStorage {
	return m.window
}

// DB returns the underlying database connection
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
