package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/discovery"
	"github.com/ternarybob/reperio/internal/enhancer"
	"github.com/ternarybob/reperio/internal/extractor"
	"github.com/ternarybob/reperio/internal/governor"
	"github.com/ternarybob/reperio/internal/handlers"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/pipeline"
	"github.com/ternarybob/reperio/internal/queue"
	"github.com/ternarybob/reperio/internal/retention"
	"github.com/ternarybob/reperio/internal/review"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
	"github.com/ternarybob/reperio/internal/validation"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Request governor, shared by discovery and extraction
	Governor *governor.Governor

	// Job execution
	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool

	// Pipeline services
	DiscoveryEngine  *discovery.Engine
	ExtractorService *extractor.Service
	EnhancerService  *enhancer.Service
	Validator        *validation.Validator
	Workflow         *review.Workflow
	RetentionManager *retention.Manager

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	StatusHandler    *handlers.StatusHandler
	JobHandler       *handlers.JobHandler
	ReviewHandler    *handlers.ReviewHandler
	RetentionHandler *handlers.RetentionHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	logger.Info().
		Str("environment", cfg.Environment).
		Int("workers", cfg.Queue.Concurrency).
		Msg("Application initialization complete")
	return app, nil
}

// initStorage initializes the Badger storage layer
func (a *App) initStorage() error {
	storageManager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices wires the pipeline: governor, queue, discovery, extraction,
// enhancement, validation, review, retention, and the job executors.
func (a *App) initServices() error {
	jobs := a.StorageManager.JobStorage()
	profiles := a.StorageManager.ProfileStorage()
	windows := a.StorageManager.WindowStorage()

	a.Governor = governor.New(&a.Config.Governor, windows, a.Logger)

	badgerMgr, ok := a.StorageManager.(*badgerstore.Manager)
	if !ok {
		return fmt.Errorf("queue requires the badger storage backend")
	}
	a.QueueManager = queue.NewManager(jobs, badgerMgr.DB().Store().Badger(), &a.Config.Queue, a.Logger)
	a.WorkerPool = queue.NewWorkerPool(a.QueueManager, &a.Config.Queue, a.Logger)

	providers := make([]interfaces.SearchProvider, 0, len(a.Config.Discovery.Providers))
	for _, pc := range a.Config.Discovery.Providers {
		providers = append(providers, discovery.NewHTTPProvider(pc, a.Logger))
	}
	a.DiscoveryEngine = discovery.NewEngine(&a.Config.Discovery, providers, a.Governor, profiles, a.Logger)

	a.ExtractorService = extractor.NewService(&a.Config.Extractor, a.Governor, a.Logger)

	provider, err := enhancer.NewProvider(&a.Config.Enhancer, a.Logger)
	if err != nil {
		// The pipeline degrades to fallback enhancement rather than
		// refusing to start without an API key.
		a.Logger.Warn().Err(err).Msg("Enhancement provider unavailable, running with fallback enhancement")
		provider = enhancer.NewDisabledProvider(err.Error())
	}
	a.EnhancerService = enhancer.NewService(provider, &a.Config.Enhancer, a.Logger)

	a.Validator = validation.NewValidator(&a.Config.Review, a.Logger)

	canonical := badgerstore.NewCanonicalStore(badgerMgr.DB(), a.Logger)
	a.Workflow = review.NewWorkflow(profiles, canonical, a.Logger)

	a.RetentionManager = retention.NewManager(profiles, jobs, &a.Config.Retention, a.Logger)

	a.WorkerPool.RegisterExecutor(models.JobKindDiscovery,
		pipeline.NewDiscoveryExecutor(a.DiscoveryEngine, a.QueueManager, a.Logger))
	a.WorkerPool.RegisterExecutor(models.JobKindExtraction,
		pipeline.NewExtractionExecutor(a.ExtractorService, a.EnhancerService, a.Validator,
			a.Workflow, profiles, a.QueueManager, &a.Config.Review, a.Logger))

	return nil
}

// initHandlers creates the HTTP handlers over the wired services
func (a *App) initHandlers() {
	jobs := a.StorageManager.JobStorage()
	profiles := a.StorageManager.ProfileStorage()

	a.APIHandler = handlers.NewAPIHandler()
	a.StatusHandler = handlers.NewStatusHandler(jobs, profiles, a.StorageManager.WindowStorage(), a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.QueueManager, jobs, a.Logger)
	a.ReviewHandler = handlers.NewReviewHandler(profiles, a.Workflow, a.Logger)
	a.RetentionHandler = handlers.NewRetentionHandler(a.RetentionManager, a.Logger)
}

// Start recovers interrupted work and begins processing
func (a *App) Start(ctx context.Context) error {
	recovered, err := a.QueueManager.RecoverStaleJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if recovered > 0 {
		a.Logger.Info().Int("recovered", recovered).Msg("Stale jobs re-queued after restart")
	}

	a.WorkerPool.Start()

	if err := a.RetentionManager.Start(); err != nil {
		return fmt.Errorf("failed to start retention manager: %w", err)
	}
	return nil
}

// Shutdown stops processing and releases resources
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down application...")

	a.WorkerPool.Stop()
	a.RetentionManager.Stop()

	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close storage")
	}
	a.Logger.Info().Msg("Application stopped")
}
