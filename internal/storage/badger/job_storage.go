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

// ErrJobNotFound is returned when a job ID has no record
var ErrJobNotFound = fmt.Errorf("job not found")

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Kind != "" {
			query = query.And("Kind").Eq(models.JobKind(opts.Kind))
		}
		if opts.ParentID != "" {
			query = query.And("ParentID").Eq(opts.ParentID)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetChildJobs(ctx context.Context, parentID string) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("ParentID").Eq(parentID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to get child jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobChildStats(ctx context.Context, parentID string) (*interfaces.JobChildStats, error) {
	children, err := s.GetChildJobs(ctx, parentID)
	if err != nil {
		return nil, err
	}

	stats := &interfaces.JobChildStats{
		ChildCount: len(children),
	}

	for _, child := range children {
		switch child.Status {
		case models.JobStatusCompleted:
			stats.CompletedChildren++
		case models.JobStatusFailed:
			stats.FailedChildren++
		case models.JobStatusRunning:
			stats.RunningChildren++
		case models.JobStatusPending:
			stats.PendingChildren++
		case models.JobStatusCancelled:
			stats.CancelledChildren++
		}
	}

	return stats, nil
}

// GetStaleJobs returns worker-held running jobs whose heartbeat predates
// the threshold. Jobs without a heartbeat (batch parents) are excluded;
// the heartbeat comparison cannot go through a badgerhold criterion
// because the field is a nil pointer on those records.
func (s *JobStorage) GetStaleJobs(ctx context.Context, staleThreshold time.Duration) ([]*models.Job, error) {
	threshold := time.Now().Add(-staleThreshold)
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to get stale jobs: %w", err)
	}

	var result []*models.Job
	for i := range jobs {
		job := &jobs[i]
		if job.LastHeartbeat == nil || !job.LastHeartbeat.Before(threshold) {
			continue
		}
		result = append(result, job)
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("ID").Ne("")); err != nil {
		return 0, fmt.Errorf("failed to scan jobs for retention: %w", err)
	}

	deleted := 0
	for i := range jobs {
		job := &jobs[i]
		if !job.IsTerminal() || job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(job.ID, &models.Job{}); err != nil && err != badgerhold.ErrNotFound {
			return deleted, fmt.Errorf("failed to delete expired job %s: %w", job.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
