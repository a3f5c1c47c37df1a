package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// JobListOptions filters and pages job listings
type JobListOptions struct {
	Status   string
	Kind     string
	ParentID string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// JobChildStats aggregates sub-job outcomes under one parent
type JobChildStats struct {
	ChildCount        int
	PendingChildren   int
	RunningChildren   int
	CompletedChildren int
	FailedChildren    int
	CancelledChildren int
}

// JobStorage persists queue jobs
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	GetChildJobs(ctx context.Context, parentID string) ([]*models.Job, error)
	GetJobChildStats(ctx context.Context, parentID string) (*JobChildStats, error)
	GetStaleJobs(ctx context.Context, staleThreshold time.Duration) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ProfileListOptions filters and pages profile listings
type ProfileListOptions struct {
	Status string
	Limit  int
	Offset int
}

// ProfileStorage persists discovered profiles
type ProfileStorage interface {
	SaveProfile(ctx context.Context, profile *models.DiscoveredProfile) error
	GetProfile(ctx context.Context, profileID string) (*models.DiscoveredProfile, error)
	GetProfileByURL(ctx context.Context, normalizedURL string) (*models.DiscoveredProfile, error)
	ListProfiles(ctx context.Context, opts *ProfileListOptions) ([]*models.DiscoveredProfile, error)
	ListProfilesUpdatedBefore(ctx context.Context, statuses []models.ProfileStatus, cutoff time.Time) ([]*models.DiscoveredProfile, error)
	FindProfilesBySubject(ctx context.Context, subject string) ([]*models.DiscoveredProfile, error)
	DeleteProfile(ctx context.Context, profileID string) error
}

// WindowStorage persists rate-limit window snapshots for observability
type WindowStorage interface {
	SaveWindow(ctx context.Context, window *models.RateLimitWindow) error
	ListWindows(ctx context.Context, domain string) ([]*models.RateLimitWindow, error)
}

// StorageManager owns the storage backends
type StorageManager interface {
	JobStorage() JobStorage
	ProfileStorage() ProfileStorage
	WindowStorage() WindowStorage
	Close() error
}
