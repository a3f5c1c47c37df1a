package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

const profilePage = `<html><body>
<h1 itemprop="name">Jane Doe</h1>
<h2 class="headline">Staff Engineer at Acme Corp</h2>
<span class="location">Berlin, Germany</span>
<section id="about"><p>Distributed systems engineer with storage focus.</p></section>
<section class="experience"><div class="entry"><h3 class="title">Staff Engineer</h3><h4 class="organization">Acme Corp</h4></div></section>
<section class="education"><div class="entry"><h3 class="institution">TU Berlin</h3></div></section>
<section class="skills"><ul><li>Go</li></ul></section>
</body></html>`

type openGovernor struct{}

func (openGovernor) Authorize(domain, requestType string) interfaces.Decision {
	return interfaces.Decision{Allowed: true}
}
func (openGovernor) RecordOutcome(domain string, success bool) {}

type stubEnhanceProvider struct{}

func (stubEnhanceProvider) Name() string  { return "stub" }
func (stubEnhanceProvider) Model() string { return "stub-model" }
func (stubEnhanceProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return `{"summary": "Experienced engineer.", "confidence": 0.9, "data_quality": 0.9}`, nil
}

type memoryCanonicalStore struct {
	upserts int
}

func (s *memoryCanonicalStore) Upsert(ctx context.Context, profileID string, fields models.CanonicalFields) (string, error) {
	s.upserts++
	return "canon_" + profileID, nil
}

type testEnv struct {
	executor  *ExtractionExecutor
	profiles  interfaces.ProfileStorage
	queueMgr  *queue.Manager
	canonical *memoryCanonicalStore
}

func newTestEnv(t *testing.T, autoApprove bool) *testEnv {
	t.Helper()
	logger := common.GetLogger()

	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	profiles := badgerstore.NewProfileStorage(db, logger)
	jobs := badgerstore.NewJobStorage(db, logger)
	queueMgr := queue.NewManager(jobs, db.Store().Badger(), &common.QueueConfig{
		DefaultMaxRetries: 3,
		BatchSplitSize:    10,
	}, logger)

	extractorSvc := extractor.NewService(&common.ExtractorConfig{
		UserAgent:      "reperio-test",
		RequestTimeout: "5s",
		MaxBodySize:    1024 * 1024,
		FetchRate:      "1ms",
		MaxRawTextSize: 5000,
	}, openGovernor{}, logger)

	enhancerSvc := enhancer.NewService(stubEnhanceProvider{}, &common.EnhancerConfig{MaxPrompt: 2000}, logger)

	reviewConfig := &common.ReviewConfig{
		AutoApprove:     autoApprove,
		MinConfidence:   0.7,
		MinCompleteness: 0.6,
		MaxWarnings:     5,
	}
	validator := validation.NewValidator(reviewConfig, logger)

	canonical := &memoryCanonicalStore{}
	workflow := review.NewWorkflow(profiles, canonical, logger)

	executor := NewExtractionExecutor(extractorSvc, enhancerSvc, validator, workflow, profiles, queueMgr, reviewConfig, logger)
	return &testEnv{executor: executor, profiles: profiles, queueMgr: queueMgr, canonical: canonical}
}

func serveProfilePage(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func submitExtraction(t *testing.T, env *testEnv, urls ...string) *models.Job {
	t.Helper()
	job := models.NewJob(models.JobKindExtraction, models.PriorityNormal, models.JobConfig{
		Extraction: &models.ExtractionJobConfig{URLs: urls},
	})
	require.NoError(t, env.queueMgr.Submit(context.Background(), job))
	claimed, err := env.queueMgr.ClaimNext(context.Background())
	require.NoError(t, err)
	return claimed
}

func TestExecuteRunsFullPipeline(t *testing.T) {
	env := newTestEnv(t, false)
	server := serveProfilePage(t, http.StatusOK, profilePage)
	ctx := context.Background()

	job := submitExtraction(t, env, server.URL+"/in/jane-doe")
	require.NoError(t, env.executor.Execute(ctx, job))

	all, err := env.profiles.ListProfiles(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	profile := all[0]

	assert.Equal(t, models.ProfileStatusValidated, profile.Status)
	require.NotNil(t, profile.Extracted)
	assert.Equal(t, "Jane Doe", profile.Extracted.Identity)
	require.NotNil(t, profile.Enhancement)
	assert.False(t, profile.Enhancement.FallbackUsed)
	assert.Equal(t, "Experienced engineer.", profile.Enhancement.Summary)
	require.NotNil(t, profile.Validation)
	assert.True(t, profile.Validation.IsValid)
	require.NotNil(t, profile.Review)
	assert.Equal(t, models.ReviewStatePending, profile.Review.State)
	assert.Equal(t, 0, env.canonical.upserts, "manual review mode must not publish")
}

func TestExecuteAutoApprovesCleanRecords(t *testing.T) {
	env := newTestEnv(t, true)
	server := serveProfilePage(t, http.StatusOK, profilePage)
	ctx := context.Background()

	job := submitExtraction(t, env, server.URL+"/in/jane-doe")
	require.NoError(t, env.executor.Execute(ctx, job))

	all, err := env.profiles.ListProfiles(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	assert.Equal(t, models.ProfileStatusApproved, all[0].Status)
	assert.NotEmpty(t, all[0].CanonicalID)
	assert.Equal(t, 1, env.canonical.upserts)
}

func TestExecuteFetchFailureIsRecoverable(t *testing.T) {
	env := newTestEnv(t, false)
	server := serveProfilePage(t, http.StatusTooManyRequests, "")
	ctx := context.Background()

	job := submitExtraction(t, env, server.URL+"/in/jane-doe")
	err := env.executor.Execute(ctx, job)
	require.Error(t, err)
	assert.True(t, queue.IsRecoverable(err))
}

func TestExecuteSkipsReviewedProfiles(t *testing.T) {
	env := newTestEnv(t, true)
	server := serveProfilePage(t, http.StatusOK, profilePage)
	ctx := context.Background()

	pageURL := server.URL + "/in/jane-doe"
	normalized, err := common.NormalizeURL(pageURL)
	require.NoError(t, err)

	// An already-approved record for the same URL must keep its disposition
	reviewed := models.NewDiscoveredProfile(normalized, models.DiscoveryMeta{Provider: "searx"})
	reviewed.Status = models.ProfileStatusApproved
	reviewed.Review = &models.ReviewMeta{State: models.ReviewStateApproved, Reviewer: "alice"}
	reviewed.CanonicalID = "canon_existing"
	require.NoError(t, env.profiles.SaveProfile(ctx, reviewed))

	job := submitExtraction(t, env, pageURL)
	require.NoError(t, env.executor.Execute(ctx, job))

	kept, err := env.profiles.GetProfile(ctx, reviewed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileStatusApproved, kept.Status)
	assert.Equal(t, models.ReviewStateApproved, kept.Review.State)
	assert.Equal(t, "canon_existing", kept.CanonicalID)
	assert.Equal(t, 0, env.canonical.upserts, "re-extraction must not touch the downstream store")
}

func TestExecutePartialFailureStillCompletes(t *testing.T) {
	env := newTestEnv(t, false)
	good := serveProfilePage(t, http.StatusOK, profilePage)
	bad := serveProfilePage(t, http.StatusNotFound, "")
	ctx := context.Background()

	job := submitExtraction(t, env, good.URL+"/in/jane-doe", bad.URL+"/in/gone")
	require.NoError(t, env.executor.Execute(ctx, job))

	all, err := env.profiles.ListProfiles(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
