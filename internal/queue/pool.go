package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// heartbeatInterval is how often a worker refreshes a running job's
// liveness marker. Must be well under the stale threshold.
const heartbeatInterval = 30 * time.Second

// WorkerPool drives claimed jobs through registered per-kind executors
type WorkerPool struct {
	manager    *Manager
	executors  map[models.JobKind]interfaces.JobExecutor
	logger     arbor.ILogger
	numWorkers int
	poll       time.Duration
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a worker pool over the queue manager
func NewWorkerPool(manager *Manager, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		manager:    manager,
		executors:  make(map[models.JobKind]interfaces.JobExecutor),
		logger:     logger,
		numWorkers: config.Concurrency,
		poll:       common.ParseDurationOr(config.PollInterval, time.Second),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterExecutor registers an executor for a job kind
func (wp *WorkerPool) RegisterExecutor(kind models.JobKind, executor interfaces.JobExecutor) {
	wp.executors[kind] = executor
	wp.logger.Info().
		Str("kind", string(kind)).
		Msg("Executor registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("num_workers", wp.numWorkers).
		Msg("Starting worker pool")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops the worker pool gracefully, waiting for in-flight jobs
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool...")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("Worker pool stopped")
}

// worker is the main worker loop
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.poll)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopping")
			return
		case <-ticker.C:
			wp.drain(workerID)
		}
	}
}

// drain claims and runs jobs until the queue is empty or the pool stops
func (wp *WorkerPool) drain(workerID int) {
	for {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		job, err := wp.manager.ClaimNext(wp.ctx)
		if err != nil {
			if !errors.Is(err, ErrNoJob) {
				wp.logger.Error().Err(err).Int("worker_id", workerID).Msg("Failed to claim job")
			}
			return
		}
		wp.processJob(workerID, job)
	}
}

// processJob runs one claimed job under its timeout, heartbeating until done
func (wp *WorkerPool) processJob(workerID int, job *models.Job) {
	wp.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Msg("Processing job")

	if err := wp.manager.AppendJobLog(wp.ctx, job.ID, "info", fmt.Sprintf("Job started on worker %d", workerID)); err != nil {
		wp.logger.Warn().Err(err).Msg("Failed to add job log")
	}

	executor, ok := wp.executors[job.Kind]
	if !ok {
		err := fmt.Errorf("no executor registered for job kind: %s", job.Kind)
		wp.logger.Error().
			Str("kind", string(job.Kind)).
			Str("job_id", job.ID).
			Msg(err.Error())
		if failErr := wp.manager.Fail(wp.ctx, job.ID, err); failErr != nil {
			wp.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return
	}

	jobCtx, cancelJob := context.WithTimeout(wp.ctx, job.Timeout)
	defer cancelJob()

	// Heartbeat while the executor runs; a cancellation request aborts
	// the job context so the executor unwinds at its next checkpoint.
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				cancelRequested, err := wp.manager.Heartbeat(wp.ctx, job.ID)
				if err != nil {
					wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Heartbeat failed")
					continue
				}
				if cancelRequested {
					cancelJob()
				}
			}
		}
	}()

	err := executor.Execute(jobCtx, job)
	close(heartbeatDone)

	if err != nil {
		// A deadline hit is transient from the queue's point of view
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = Recoverable(fmt.Errorf("job timed out after %s: %w", job.Timeout, err))
		}

		// If cancellation was requested, finalize as cancelled rather
		// than failed.
		if cancelled, cancelErr := wp.manager.FinalizeCancelled(wp.ctx, job.ID); cancelErr == nil && cancelled {
			wp.logger.Info().Str("job_id", job.ID).Msg("Job cancelled")
			return
		}

		wp.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Job failed")
		if failErr := wp.manager.Fail(wp.ctx, job.ID, err); failErr != nil {
			wp.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return
	}

	if completeErr := wp.manager.Complete(wp.ctx, job.ID, nil); completeErr != nil {
		wp.logger.Error().Err(completeErr).Str("job_id", job.ID).Msg("Failed to record job completion")
	}
}
