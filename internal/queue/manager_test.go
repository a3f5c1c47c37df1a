package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := badgerstore.NewBadgerDB(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobs := badgerstore.NewJobStorage(db, common.GetLogger())
	config := &common.QueueConfig{
		DefaultMaxRetries: 3,
		RetryBaseDelay:    "5s",
		RetryMaxDelay:     "40s",
		DefaultTimeout:    "15m",
		BatchSplitSize:    10,
		StaleThreshold:    "10m",
	}
	return NewManager(jobs, db.Store().Badger(), config, common.GetLogger())
}

func extractionJob(priority models.JobPriority, urls ...string) *models.Job {
	return models.NewJob(models.JobKindExtraction, priority, models.JobConfig{
		Extraction: &models.ExtractionJobConfig{URLs: urls},
	})
}

func TestSubmitRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Extraction payload on a discovery job
	bad := models.NewJob(models.JobKindDiscovery, models.PriorityNormal, models.JobConfig{
		Extraction: &models.ExtractionJobConfig{URLs: []string{"https://profiles.example.com/in/x"}},
	})
	assert.Error(t, m.Submit(ctx, bad))

	// No URLs
	empty := extractionJob(models.PriorityNormal)
	assert.Error(t, m.Submit(ctx, empty))
}

func TestSubmitAppliesDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/jane-doe")
	require.NoError(t, m.Submit(ctx, job))

	saved, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, saved.MaxRetries)
	assert.Equal(t, 15*time.Minute, saved.Timeout)
}

func TestClaimNextOrdersByPriorityThenFIFO(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// All three are already due; only priority and submission order matter
	base := time.Now().Add(-time.Second)

	lowFirst := extractionJob(models.PriorityLow, "https://profiles.example.com/in/a")
	lowFirst.ScheduledFor = base
	require.NoError(t, m.Submit(ctx, lowFirst))

	urgent := extractionJob(models.PriorityUrgent, "https://profiles.example.com/in/b")
	urgent.ScheduledFor = base.Add(time.Millisecond)
	require.NoError(t, m.Submit(ctx, urgent))

	lowSecond := extractionJob(models.PriorityLow, "https://profiles.example.com/in/c")
	lowSecond.ScheduledFor = base.Add(2 * time.Millisecond)
	require.NoError(t, m.Submit(ctx, lowSecond))

	var order []string
	for i := 0; i < 3; i++ {
		job, err := m.ClaimNext(ctx)
		require.NoError(t, err)
		order = append(order, job.ID)
	}
	assert.Equal(t, []string{urgent.ID, lowFirst.ID, lowSecond.ID}, order)

	_, err := m.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestClaimNextSkipsDeferredJobs(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	deferred := extractionJob(models.PriorityUrgent, "https://profiles.example.com/in/later")
	deferred.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, m.Submit(ctx, deferred))

	due := extractionJob(models.PriorityLow, "https://profiles.example.com/in/now")
	require.NoError(t, m.Submit(ctx, due))

	job, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, due.ID, job.ID)

	_, err = m.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestFailRetriesWithBackoffThenExhausts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/flaky")
	job.MaxRetries = 2
	require.NoError(t, m.Submit(ctx, job))

	claimed, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, claimed.ID, Recoverable(errors.New("upstream 429"))))

	requeued, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	assert.True(t, requeued.ScheduledFor.After(time.Now()), "retry must be deferred by backoff")

	// Not claimable until the backoff elapses
	_, err = m.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	// Force the retry to be due, then burn the remaining budget
	requeued.ScheduledFor = time.Now().Add(-time.Second)
	require.NoError(t, m.jobs.SaveJob(ctx, requeued))
	m.deleteIndexKeysFor(requeued.ID)
	require.NoError(t, m.writeIndexKey(requeued))

	claimed, err = m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, claimed.ID, Recoverable(errors.New("upstream 429"))))

	requeued, err = m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	requeued.ScheduledFor = time.Now().Add(-time.Second)
	require.NoError(t, m.jobs.SaveJob(ctx, requeued))
	m.deleteIndexKeysFor(requeued.ID)
	require.NoError(t, m.writeIndexKey(requeued))

	claimed, err = m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, claimed.ID, Recoverable(errors.New("upstream 429"))))

	final, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
}

func TestFailNonRecoverableIsTerminal(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/broken")
	require.NoError(t, m.Submit(ctx, job))

	claimed, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, claimed.ID, errors.New("malformed config")))

	final, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, 5*time.Second, m.retryBackoff(0))
	assert.Equal(t, 10*time.Second, m.retryBackoff(1))
	assert.Equal(t, 20*time.Second, m.retryBackoff(2))
	assert.Equal(t, 40*time.Second, m.retryBackoff(3))
	assert.Equal(t, 40*time.Second, m.retryBackoff(10))
}

func TestCancelPendingJobIsImmediate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/unwanted")
	require.NoError(t, m.Submit(ctx, job))
	require.NoError(t, m.Cancel(ctx, job.ID))

	cancelled, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	_, err = m.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/slow")
	require.NoError(t, m.Submit(ctx, job))

	claimed, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, claimed.ID))

	running, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, running.Status)
	assert.True(t, running.CancelRequested)

	cancelRequested, err := m.Heartbeat(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelRequested)
}

func TestSubmitSplitsLargeExtractionBatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	urls := make([]string, 25)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://profiles.example.com/in/person-%d", i)
	}
	parent := extractionJob(models.PriorityHigh, urls...)
	require.NoError(t, m.Submit(ctx, parent))

	saved, err := m.jobs.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, saved.Status)
	assert.Equal(t, 25, saved.TotalItems)

	children, err := m.jobs.GetChildJobs(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Len(t, children[0].Config.Extraction.URLs, 10)
	assert.Len(t, children[2].Config.Extraction.URLs, 5)
	for _, child := range children {
		assert.Equal(t, parent.Priority, child.Priority)
		assert.Equal(t, parent.MaxRetries, child.MaxRetries)
	}
}

func TestParentFinalizesFromSubJobOutcomes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	urls := make([]string, 12)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://profiles.example.com/in/batch-%d", i)
	}
	parent := extractionJob(models.PriorityNormal, urls...)
	require.NoError(t, m.Submit(ctx, parent))

	first, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, first.ID, nil))

	mid, err := m.jobs.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, mid.Status, "parent stays running until all children finish")

	second, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, second.ID, errors.New("page gone")))

	final, err := m.jobs.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 1, final.CompletedItems)
	assert.Equal(t, 1, final.FailedItems)
}

func TestRecoverStaleJobsLeavesBatchParentWithOpenChildren(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	urls := make([]string, 25)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://profiles.example.com/in/person-%d", i)
	}
	parent := extractionJob(models.PriorityNormal, urls...)
	require.NoError(t, m.Submit(ctx, parent))

	// The parent runs without a worker heartbeat while its children are
	// still pending; recovery must not retry or fail it.
	recovered, err := m.RecoverStaleJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	saved, err := m.jobs.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, saved.Status)
	assert.Equal(t, 0, saved.RetryCount)
}

func TestRecoverStaleJobsFinalizesParentWithFinishedChildren(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	urls := make([]string, 12)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://profiles.example.com/in/batch-%d", i)
	}
	parent := extractionJob(models.PriorityNormal, urls...)
	require.NoError(t, m.Submit(ctx, parent))

	// Children finish but the crash lands before the parent roll-up
	for i := 0; i < 2; i++ {
		child, err := m.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, child.Transition(models.JobStatusCompleted))
		require.NoError(t, m.jobs.SaveJob(ctx, child))
	}

	recovered, err := m.RecoverStaleJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	final, err := m.jobs.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.CompletedItems)
}

func TestConcurrentHeartbeatsDoNotLoseCancelRequest(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/busy")
	require.NoError(t, m.Submit(ctx, job))

	claimed, err := m.ClaimNext(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = m.Heartbeat(ctx, claimed.ID)
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Cancel(ctx, claimed.ID))
	}()
	wg.Wait()

	final, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, final.CancelRequested, "heartbeat saves must not overwrite the cancel flag")
}

func TestRecoverStaleJobs(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := extractionJob(models.PriorityNormal, "https://profiles.example.com/in/orphan")
	require.NoError(t, m.Submit(ctx, job))

	claimed, err := m.ClaimNext(ctx)
	require.NoError(t, err)

	// Simulate a crashed worker: heartbeat far in the past
	stale := time.Now().Add(-time.Hour)
	claimed.LastHeartbeat = &stale
	require.NoError(t, m.jobs.SaveJob(ctx, claimed))

	recovered, err := m.RecoverStaleJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	requeued, err := m.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)

	reclaimed, err := m.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reclaimed.ID)
}
