package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/discovery"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/queue"
)

// DiscoveryExecutor runs discovery jobs: criteria in, persisted candidate
// records out, optionally chaining an extraction job for the accepted URLs.
type DiscoveryExecutor struct {
	engine   *discovery.Engine
	queueMgr *queue.Manager
	logger   arbor.ILogger
}

// NewDiscoveryExecutor creates the discovery job executor
func NewDiscoveryExecutor(engine *discovery.Engine, queueMgr *queue.Manager, logger arbor.ILogger) *DiscoveryExecutor {
	return &DiscoveryExecutor{
		engine:   engine,
		queueMgr: queueMgr,
		logger:   logger,
	}
}

func (e *DiscoveryExecutor) Execute(ctx context.Context, job *models.Job) error {
	config := job.Config.Discovery
	if config == nil {
		return fmt.Errorf("discovery job %s has no discovery config", job.ID)
	}

	result, err := e.engine.Discover(ctx, config.Criteria, config.MaxResults)
	if err != nil {
		// Provider-level trouble is worth another attempt later
		return queue.Recoverable(fmt.Errorf("discovery run failed: %w", err))
	}
	profiles := result.Profiles

	summary := map[string]interface{}{
		"candidates_accepted": len(profiles),
		"queries_used":        result.QueriesUsed,
	}
	e.queueMgr.AppendJobLog(ctx, job.ID, "info",
		fmt.Sprintf("Issued %d queries, accepted %d candidates", len(result.QueriesUsed), len(profiles)))

	if config.AutoExtract && len(profiles) > 0 {
		urls := make([]string, 0, len(profiles))
		for _, profile := range profiles {
			if profile.Status == models.ProfileStatusDiscovered {
				urls = append(urls, profile.SourceURL)
			}
		}
		if len(urls) > 0 {
			extraction := models.NewJob(models.JobKindExtraction, job.Priority, models.JobConfig{
				Extraction: &models.ExtractionJobConfig{URLs: urls},
			})
			extraction.CreatedBy = job.CreatedBy
			if err := e.queueMgr.Submit(ctx, extraction); err != nil {
				return fmt.Errorf("failed to queue follow-up extraction: %w", err)
			}
			summary["extraction_job_id"] = extraction.ID
			e.queueMgr.AppendJobLog(ctx, job.ID, "info",
				fmt.Sprintf("Queued extraction job %s for %d URLs", extraction.ID, len(urls)))
		}
	}

	if err := e.queueMgr.SetResultSummary(ctx, job.ID, summary); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to store result summary")
	}
	return nil
}
