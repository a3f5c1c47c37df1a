package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/enhancer"
	"github.com/ternarybob/reperio/internal/extractor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/queue"
	"github.com/ternarybob/reperio/internal/review"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
	"github.com/ternarybob/reperio/internal/validation"
)

// ExtractionExecutor drives each URL of an extraction job through fetch,
// parse, enhancement, validation and review routing. URLs fail
// independently; the job fails only when nothing succeeded.
type ExtractionExecutor struct {
	extractor   *extractor.Service
	enhancer    *enhancer.Service
	validator   *validation.Validator
	workflow    *review.Workflow
	profiles    interfaces.ProfileStorage
	queueMgr    *queue.Manager
	autoApprove bool
	logger      arbor.ILogger
}

// NewExtractionExecutor creates the extraction job executor
func NewExtractionExecutor(
	extractorSvc *extractor.Service,
	enhancerSvc *enhancer.Service,
	validator *validation.Validator,
	workflow *review.Workflow,
	profiles interfaces.ProfileStorage,
	queueMgr *queue.Manager,
	reviewConfig *common.ReviewConfig,
	logger arbor.ILogger,
) *ExtractionExecutor {
	return &ExtractionExecutor{
		extractor:   extractorSvc,
		enhancer:    enhancerSvc,
		validator:   validator,
		workflow:    workflow,
		profiles:    profiles,
		queueMgr:    queueMgr,
		autoApprove: reviewConfig.AutoApprove,
		logger:      logger,
	}
}

func (e *ExtractionExecutor) Execute(ctx context.Context, job *models.Job) error {
	config := job.Config.Extraction
	if config == nil {
		return fmt.Errorf("extraction job %s has no extraction config", job.ID)
	}

	completed, failed := 0, 0
	var firstErr error

	for _, rawURL := range config.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.processURL(ctx, job, rawURL); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			e.queueMgr.AppendJobLog(ctx, job.ID, "error",
				fmt.Sprintf("Extraction of %s failed: %s", rawURL, err))
		} else {
			completed++
		}
		e.queueMgr.UpdateProgress(ctx, job.ID, completed, failed)
	}

	if completed == 0 && firstErr != nil {
		return firstErr
	}

	summary := map[string]interface{}{
		"urls":      len(config.URLs),
		"extracted": completed,
		"failed":    failed,
	}
	if err := e.queueMgr.SetResultSummary(ctx, job.ID, summary); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to store result summary")
	}
	return nil
}

// processURL runs the full pipeline for one profile URL
func (e *ExtractionExecutor) processURL(ctx context.Context, job *models.Job, rawURL string) error {
	normalized, err := common.NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("invalid profile URL %s: %w", rawURL, err)
	}

	profile, err := e.profiles.GetProfileByURL(ctx, normalized)
	if err != nil {
		if !errors.Is(err, badgerstore.ErrProfileNotFound) {
			return err
		}
		// Direct extraction submissions have no discovery record yet
		profile = models.NewDiscoveredProfile(normalized, models.DiscoveryMeta{
			Provider: "direct",
		})
	}

	// Records that already went through review keep their disposition; a
	// re-extraction must not pull them back into the pipeline.
	if profile.Status == models.ProfileStatusApproved || profile.Status == models.ProfileStatusRejected {
		e.logger.Info().
			Str("profile_id", profile.ID).
			Str("status", string(profile.Status)).
			Msg("Skipping re-extraction of reviewed profile")
		return nil
	}

	extracted, rawText, err := e.extractor.ExtractProfile(ctx, rawURL)
	if err != nil {
		return err
	}
	profile.Extracted = extracted
	profile.Status = models.ProfileStatusExtracted
	if err := e.profiles.SaveProfile(ctx, profile); err != nil {
		return err
	}

	// Enhancement never fails the pipeline; a fallback marker flows through
	profile.Enhancement = e.enhancer.Enhance(ctx, extracted, rawText)

	result := e.validator.Validate(profile)
	profile.Validation = result
	if result.IsValid {
		profile.Status = models.ProfileStatusValidated
	}
	if err := e.profiles.SaveProfile(ctx, profile); err != nil {
		return err
	}

	if !result.IsValid {
		e.logger.Warn().
			Str("profile_id", profile.ID).
			Strs("errors", result.Errors).
			Msg("Extracted profile failed validation")
		return nil
	}

	return e.routeForReview(ctx, profile, result)
}

// routeForReview enters validated records into the review queue, and
// auto-approves clean records when policy allows.
func (e *ExtractionExecutor) routeForReview(ctx context.Context, profile *models.DiscoveredProfile, result *models.ValidationResult) error {
	if _, err := e.workflow.EnterReview(ctx, profile.ID); err != nil {
		return err
	}
	if result.NeedsManualReview || !e.autoApprove {
		return nil
	}

	if _, err := e.workflow.StartReview(ctx, profile.ID, "policy"); err != nil {
		return err
	}
	if _, err := e.workflow.Approve(ctx, profile.ID, "policy", "auto-approved by review policy"); err != nil {
		// Canonical-tier trouble leaves the record in review for a human
		e.logger.Warn().Err(err).Str("profile_id", profile.ID).Msg("Auto-approval failed, record left in review")
	}
	return nil
}
