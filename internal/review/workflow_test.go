package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
)

// fakeCanonicalStore records upserts and can be told to fail
type fakeCanonicalStore struct {
	upserts []string
	err     error
}

func (s *fakeCanonicalStore) Upsert(ctx context.Context, profileID string, fields models.CanonicalFields) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.upserts = append(s.upserts, profileID)
	return "canon_" + profileID, nil
}

func newTestWorkflow(t *testing.T) (*Workflow, interfaces.ProfileStorage, *fakeCanonicalStore) {
	t.Helper()
	db, err := badgerstore.NewBadgerDB(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	profiles := badgerstore.NewProfileStorage(db, common.GetLogger())
	canonical := &fakeCanonicalStore{}
	return NewWorkflow(profiles, canonical, common.GetLogger()), profiles, canonical
}

func validatedProfile(t *testing.T, store interfaces.ProfileStorage) *models.DiscoveredProfile {
	t.Helper()
	profile := models.NewDiscoveredProfile("https://profiles.example.com/in/jane-doe", models.DiscoveryMeta{Provider: "test"})
	profile.Status = models.ProfileStatusValidated
	profile.Extracted = &models.ExtractedProfile{
		Identity: "Jane Doe",
		Headline: "Staff Engineer",
		Location: "Berlin",
	}
	require.NoError(t, store.SaveProfile(context.Background(), profile))
	return profile
}

func TestApproveWritesCanonicalStore(t *testing.T) {
	workflow, store, canonical := newTestWorkflow(t)
	ctx := context.Background()
	profile := validatedProfile(t, store)

	_, err := workflow.EnterReview(ctx, profile.ID)
	require.NoError(t, err)
	_, err = workflow.StartReview(ctx, profile.ID, "alex")
	require.NoError(t, err)

	approved, err := workflow.Approve(ctx, profile.ID, "alex", "looks good")
	require.NoError(t, err)

	assert.Equal(t, models.ProfileStatusApproved, approved.Status)
	assert.Equal(t, models.ReviewStateApproved, approved.Review.State)
	assert.Equal(t, "canon_"+profile.ID, approved.CanonicalID)
	assert.Equal(t, []string{profile.ID}, canonical.upserts)
}

func TestApproveAbortsWhenCanonicalWriteFails(t *testing.T) {
	workflow, store, canonical := newTestWorkflow(t)
	ctx := context.Background()
	profile := validatedProfile(t, store)

	_, err := workflow.EnterReview(ctx, profile.ID)
	require.NoError(t, err)
	_, err = workflow.StartReview(ctx, profile.ID, "alex")
	require.NoError(t, err)

	canonical.err = errors.New("canonical tier unavailable")
	_, err = workflow.Approve(ctx, profile.ID, "alex", "")
	require.Error(t, err)

	unchanged, err := store.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileStatusValidated, unchanged.Status)
	assert.Equal(t, models.ReviewStateInReview, unchanged.Review.State)
	assert.Empty(t, unchanged.CanonicalID)
}

func TestReviewStateMachineRejectsIllegalEdges(t *testing.T) {
	workflow, store, _ := newTestWorkflow(t)
	ctx := context.Background()
	profile := validatedProfile(t, store)

	// Approve straight from pending is illegal
	_, err := workflow.EnterReview(ctx, profile.ID)
	require.NoError(t, err)
	_, err = workflow.Approve(ctx, profile.ID, "alex", "")
	assert.Error(t, err)

	// Terminal states have no outgoing edges
	_, err = workflow.StartReview(ctx, profile.ID, "alex")
	require.NoError(t, err)
	_, err = workflow.Reject(ctx, profile.ID, "alex", "wrong person")
	require.NoError(t, err)
	_, err = workflow.StartReview(ctx, profile.ID, "alex")
	assert.Error(t, err)
	_, err = workflow.Approve(ctx, profile.ID, "alex", "")
	assert.Error(t, err)
}

func TestNeedsChangesRoundTrip(t *testing.T) {
	workflow, store, canonical := newTestWorkflow(t)
	ctx := context.Background()
	profile := validatedProfile(t, store)

	_, err := workflow.EnterReview(ctx, profile.ID)
	require.NoError(t, err)
	_, err = workflow.StartReview(ctx, profile.ID, "alex")
	require.NoError(t, err)

	changed, err := workflow.RequestChanges(ctx, profile.ID, "alex", "headline looks stale")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStateNeedsChanges, changed.Review.State)
	assert.Empty(t, canonical.upserts)

	resubmitted, err := workflow.Resubmit(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatePending, resubmitted.Review.State)

	_, err = workflow.StartReview(ctx, profile.ID, "sam")
	require.NoError(t, err)
	approved, err := workflow.Approve(ctx, profile.ID, "sam", "")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStateApproved, approved.Review.State)
}

func TestEnterReviewRequiresValidatedStatus(t *testing.T) {
	workflow, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	profile := models.NewDiscoveredProfile("https://profiles.example.com/in/raw", models.DiscoveryMeta{Provider: "test"})
	require.NoError(t, store.SaveProfile(ctx, profile))

	_, err := workflow.EnterReview(ctx, profile.ID)
	assert.Error(t, err)
}
