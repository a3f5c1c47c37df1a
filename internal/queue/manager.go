package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// indexPrefix is the raw-badger keyspace holding the claim order index.
// Keys sort as priority rank, then scheduled time, then ID, so iterating
// the prefix yields jobs in claim order.
const indexPrefix = "queue:jobs:index:"

// ErrNoJob is returned when no job is claimable right now
var ErrNoJob = errors.New("no claimable job")

// RecoverableError marks a failure as transient, eligible for retry
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return e.Err.Error() }
func (e *RecoverableError) Unwrap() error { return e.Err }

// Recoverable wraps err so the queue retries the job within its budget
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

// IsRecoverable reports whether err was marked transient
func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}

// Manager owns the job lifecycle: submission, claim ordering, retries,
// cancellation and parent/child aggregation. Claim ordering lives in a raw
// badger index keyspace next to the badgerhold records.
type Manager struct {
	jobs   interfaces.JobStorage
	db     *badger.DB
	logger arbor.ILogger

	defaultMaxRetries int
	retryBaseDelay    time.Duration
	retryMaxDelay     time.Duration
	defaultTimeout    time.Duration
	staleThreshold    time.Duration
	batchSplitSize    int

	// Serializes job record read-modify-writes, including the claim CAS,
	// so a heartbeat or progress save never overwrites a concurrent
	// cancellation or status change.
	mu sync.Mutex
}

// NewManager creates a queue manager on top of the job store and the raw
// badger handle used for the claim index.
func NewManager(jobs interfaces.JobStorage, db *badger.DB, config *common.QueueConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		jobs:              jobs,
		db:                db,
		logger:            logger,
		defaultMaxRetries: config.DefaultMaxRetries,
		retryBaseDelay:    common.ParseDurationOr(config.RetryBaseDelay, 5*time.Second),
		retryMaxDelay:     common.ParseDurationOr(config.RetryMaxDelay, 10*time.Minute),
		defaultTimeout:    common.ParseDurationOr(config.DefaultTimeout, 15*time.Minute),
		staleThreshold:    common.ParseDurationOr(config.StaleThreshold, 10*time.Minute),
		batchSplitSize:    config.BatchSplitSize,
	}
}

// updateJob applies mutate to the current stored record under the manager
// lock and persists the result. The mutation sees the latest saved state,
// never a stale in-memory copy.
func (m *Manager) updateJob(ctx context.Context, jobID string, mutate func(*models.Job) error) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Submit validates and enqueues a job. Extraction jobs whose URL count
// exceeds the batch split size are stored as a running parent plus pending
// sub-jobs; the parent completes when its children do.
func (m *Manager) Submit(ctx context.Context, job *models.Job) error {
	if !models.IsValidJobKind(job.Kind) {
		return fmt.Errorf("unknown job kind: %s", job.Kind)
	}
	if err := job.Config.Validate(job.Kind); err != nil {
		return err
	}

	if job.MaxRetries == 0 {
		job.MaxRetries = m.defaultMaxRetries
	}
	if job.Timeout == 0 {
		job.Timeout = m.defaultTimeout
	}

	if job.Kind == models.JobKindExtraction && m.batchSplitSize > 0 &&
		len(job.Config.Extraction.URLs) > m.batchSplitSize {
		return m.submitBatch(ctx, job)
	}

	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := m.writeIndexKey(job); err != nil {
		return err
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("priority", string(job.Priority)).
		Msg("Job submitted")
	return nil
}

// submitBatch splits a large extraction job into sub-jobs of at most
// batchSplitSize URLs each. The parent tracks aggregate progress only.
func (m *Manager) submitBatch(ctx context.Context, parent *models.Job) error {
	urls := parent.Config.Extraction.URLs
	parent.TotalItems = len(urls)
	parent.AppendLog("info", fmt.Sprintf("Splitting %d URLs into sub-jobs of %d", len(urls), m.batchSplitSize))

	if err := parent.Transition(models.JobStatusRunning); err != nil {
		return err
	}
	if err := m.jobs.SaveJob(ctx, parent); err != nil {
		return err
	}

	for start := 0; start < len(urls); start += m.batchSplitSize {
		end := start + m.batchSplitSize
		if end > len(urls) {
			end = len(urls)
		}
		sub := models.NewSubJob(parent, models.JobConfig{
			Extraction: &models.ExtractionJobConfig{URLs: urls[start:end]},
		})
		if err := m.jobs.SaveJob(ctx, sub); err != nil {
			return err
		}
		if err := m.writeIndexKey(sub); err != nil {
			return err
		}
	}

	m.logger.Info().
		Str("job_id", parent.ID).
		Int("urls", len(urls)).
		Int("sub_jobs", (len(urls)+m.batchSplitSize-1)/m.batchSplitSize).
		Msg("Extraction batch split into sub-jobs")
	return nil
}

// ClaimNext atomically claims the highest-priority due job, moving it
// pending -> running. Returns ErrNoJob when nothing is claimable.
func (m *Manager) ClaimNext(ctx context.Context) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	var claimed *models.Job
	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			jobID := jobIDFromIndexKey(key)
			if jobID == "" {
				_ = txn.Delete([]byte(key))
				continue
			}

			job, err := m.jobs.GetJob(ctx, jobID)
			if err != nil {
				// Orphaned index entry; drop it and keep scanning
				_ = txn.Delete([]byte(key))
				continue
			}

			if job.Status != models.JobStatusPending {
				_ = txn.Delete([]byte(key))
				continue
			}
			if job.CancelRequested {
				if err := job.Transition(models.JobStatusCancelled); err == nil {
					_ = m.jobs.SaveJob(ctx, job)
				}
				_ = txn.Delete([]byte(key))
				continue
			}
			if job.ScheduledFor.After(now) {
				// Keys sort by schedule within a priority rank, but a
				// lower-priority job may still be due, so keep scanning.
				continue
			}

			if err := job.Transition(models.JobStatusRunning); err != nil {
				return err
			}
			heartbeat := now
			job.LastHeartbeat = &heartbeat
			if err := m.jobs.SaveJob(ctx, job); err != nil {
				return err
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
			claimed = job
			return nil
		}
		return ErrNoJob
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a running job completed and rolls its result up to the
// parent if it is a sub-job.
func (m *Manager) Complete(ctx context.Context, jobID string, summary map[string]interface{}) error {
	job, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		if err := job.Transition(models.JobStatusCompleted); err != nil {
			return err
		}
		if summary != nil {
			job.ResultSummary = summary
		}
		job.AppendLog("info", "Job completed")
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().Str("job_id", jobID).Msg("Job completed")
	return m.onTerminal(ctx, job)
}

// Fail records a failure. Recoverable failures re-enter pending with
// exponential backoff while the retry budget lasts; everything else is
// terminal.
func (m *Manager) Fail(ctx context.Context, jobID string, failure error) error {
	var requeued bool
	var backoff time.Duration

	job, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		if IsRecoverable(failure) && job.CanRetry() && !job.CancelRequested {
			backoff = m.retryBackoff(job.RetryCount)
			if err := job.Retry(failure.Error(), time.Now().Add(backoff)); err != nil {
				return err
			}
			job.AppendLog("warn", fmt.Sprintf("Attempt %d failed, retrying in %s: %s", job.RetryCount, backoff, failure))
			requeued = true
			return nil
		}

		if err := job.Transition(models.JobStatusFailed); err != nil {
			return err
		}
		job.Error = failure.Error()
		job.AppendLog("error", failure.Error())
		return nil
	})
	if err != nil {
		return err
	}

	if requeued {
		if err := m.writeIndexKey(job); err != nil {
			return err
		}
		m.logger.Warn().
			Str("job_id", jobID).
			Int("retry", job.RetryCount).
			Str("backoff", backoff.String()).
			Msg("Job requeued for retry")
		return nil
	}

	m.logger.Error().Err(failure).Str("job_id", jobID).Msg("Job failed")
	return m.onTerminal(ctx, job)
}

// Cancel cancels a job. Pending jobs are cancelled immediately; running
// jobs get a cooperative cancel flag honored at the executor's next
// checkpoint. Pending children are cancelled alongside the parent.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		if job.IsTerminal() {
			return fmt.Errorf("cannot cancel job %s in terminal status %s", jobID, job.Status)
		}
		switch job.Status {
		case models.JobStatusPending:
			if err := job.Transition(models.JobStatusCancelled); err != nil {
				return err
			}
			job.AppendLog("info", "Job cancelled")
		case models.JobStatusRunning:
			job.CancelRequested = true
			job.AppendLog("info", "Cancellation requested")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if job.Status == models.JobStatusCancelled {
		m.deleteIndexKeysFor(job.ID)
	}

	children, err := m.jobs.GetChildJobs(ctx, jobID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.IsTerminal() {
			continue
		}
		if err := m.Cancel(ctx, child.ID); err != nil {
			m.logger.Warn().Err(err).Str("job_id", child.ID).Msg("Failed to cancel sub-job")
		}
	}

	m.logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Job cancellation processed")
	return nil
}

// FinalizeCancelled moves a running job with a pending cancel request into
// cancelled, reporting whether the transition happened.
func (m *Manager) FinalizeCancelled(ctx context.Context, jobID string) (bool, error) {
	var finalized bool
	_, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		if !job.CancelRequested || job.IsTerminal() {
			return nil
		}
		if err := job.Transition(models.JobStatusCancelled); err != nil {
			return nil
		}
		job.AppendLog("info", "Job cancelled during execution")
		finalized = true
		return nil
	})
	return finalized, err
}

// Heartbeat refreshes the liveness marker for a running job and reports
// whether cancellation was requested.
func (m *Manager) Heartbeat(ctx context.Context, jobID string) (cancelRequested bool, err error) {
	_, err = m.updateJob(ctx, jobID, func(job *models.Job) error {
		cancelRequested = job.CancelRequested
		if job.Status != models.JobStatusRunning {
			return nil
		}
		now := time.Now()
		job.LastHeartbeat = &now
		return nil
	})
	return cancelRequested, err
}

// UpdateProgress records item-level progress on a running job
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, completed, failed int) error {
	_, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		job.CompletedItems = completed
		job.FailedItems = failed
		return nil
	})
	return err
}

// SetResultSummary stores the executor's result payload on the job
func (m *Manager) SetResultSummary(ctx context.Context, jobID string, summary map[string]interface{}) error {
	_, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		job.ResultSummary = summary
		return nil
	})
	return err
}

// AppendJobLog attaches a diagnostic line to the job record
func (m *Manager) AppendJobLog(ctx context.Context, jobID, level, message string) error {
	_, err := m.updateJob(ctx, jobID, func(job *models.Job) error {
		job.AppendLog(level, message)
		return nil
	})
	return err
}

// RecoverStaleJobs repairs running jobs after a crash. Worker-held jobs
// whose heartbeat went quiet are requeued (or failed once out of retry
// budget). Batch parents never heartbeat; a parent whose children all
// reached a terminal state before the crash is finalized from their
// outcomes rather than retried, so already-covered URLs are not re-run.
func (m *Manager) RecoverStaleJobs(ctx context.Context) (int, error) {
	stale, err := m.jobs.GetStaleJobs(ctx, m.staleThreshold)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range stale {
		updated, err := m.updateJob(ctx, job.ID, func(job *models.Job) error {
			if job.CanRetry() {
				if err := job.Retry("worker heartbeat lost", time.Now()); err != nil {
					return err
				}
				job.AppendLog("warn", "Requeued after lost worker heartbeat")
				return nil
			}
			if err := job.Transition(models.JobStatusFailed); err != nil {
				return err
			}
			job.Error = "worker heartbeat lost, retry budget exhausted"
			return nil
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to recover stale job")
			continue
		}
		if updated.Status == models.JobStatusPending {
			if err := m.writeIndexKey(updated); err != nil {
				return recovered, err
			}
		} else if err := m.onTerminal(ctx, updated); err != nil {
			m.logger.Warn().Err(err).Str("job_id", updated.ID).Msg("Failed to aggregate stale job into parent")
		}
		recovered++
	}

	running, err := m.jobs.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return recovered, err
	}
	for _, job := range running {
		if job.LastHeartbeat != nil {
			continue
		}
		stats, err := m.jobs.GetJobChildStats(ctx, job.ID)
		if err != nil {
			return recovered, err
		}
		if stats.ChildCount == 0 || stats.PendingChildren > 0 || stats.RunningChildren > 0 {
			continue
		}
		if err := m.finalizeParent(ctx, job.ID); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize batch parent")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		m.logger.Info().Int("count", recovered).Msg("Recovered stale jobs")
	}
	return recovered, nil
}

// retryBackoff doubles the base delay per attempt, capped at the maximum
func (m *Manager) retryBackoff(retryCount int) time.Duration {
	backoff := m.retryBaseDelay
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= m.retryMaxDelay {
			return m.retryMaxDelay
		}
	}
	return backoff
}

// onTerminal rolls a terminal sub-job up into its parent
func (m *Manager) onTerminal(ctx context.Context, job *models.Job) error {
	if job.ParentID == "" {
		return nil
	}
	return m.finalizeParent(ctx, job.ParentID)
}

// finalizeParent refreshes a batch parent's counters from its children and
// completes it once no children remain pending or running; any failed child
// fails the parent.
func (m *Manager) finalizeParent(ctx context.Context, parentID string) error {
	stats, err := m.jobs.GetJobChildStats(ctx, parentID)
	if err != nil {
		return err
	}

	var finalized models.JobStatus
	_, err = m.updateJob(ctx, parentID, func(parent *models.Job) error {
		parent.CompletedItems = stats.CompletedChildren
		parent.FailedItems = stats.FailedChildren

		if stats.PendingChildren > 0 || stats.RunningChildren > 0 || parent.IsTerminal() {
			return nil
		}

		parent.ResultSummary = map[string]interface{}{
			"sub_jobs":  stats.ChildCount,
			"completed": stats.CompletedChildren,
			"failed":    stats.FailedChildren,
			"cancelled": stats.CancelledChildren,
		}

		target := models.JobStatusCompleted
		if stats.FailedChildren > 0 {
			target = models.JobStatusFailed
			parent.Error = fmt.Sprintf("%d of %d sub-jobs failed", stats.FailedChildren, stats.ChildCount)
		}
		if err := parent.Transition(target); err != nil {
			return err
		}
		finalized = target
		return nil
	})
	if err != nil {
		return err
	}

	if finalized != "" {
		m.logger.Info().
			Str("job_id", parentID).
			Str("status", string(finalized)).
			Int("sub_jobs", stats.ChildCount).
			Msg("Parent job finalized from sub-job outcomes")
	}
	return nil
}

// writeIndexKey records a pending job in the claim index
func (m *Manager) writeIndexKey(job *models.Job) error {
	key := indexKey(job)
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), nil)
	})
}

// deleteIndexKeysFor removes every index entry for a job ID. Used on
// cancellation, where the scheduled time in the key is unknown.
func (m *Manager) deleteIndexKeysFor(jobID string) {
	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if jobIDFromIndexKey(key) == jobID {
				if err := txn.Delete([]byte(key)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear claim index entries")
	}
}

// indexKey builds the sortable claim key for a pending job
func indexKey(job *models.Job) string {
	return fmt.Sprintf("%s%d:%020d:%s", indexPrefix, job.Priority.Rank(), job.ScheduledFor.UnixNano(), job.ID)
}

// jobIDFromIndexKey extracts the job ID from a claim key
func jobIDFromIndexKey(key string) string {
	rest := strings.TrimPrefix(key, indexPrefix)
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
