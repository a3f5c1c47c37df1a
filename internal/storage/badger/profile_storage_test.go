package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProfileStorage_SaveAndGetByURL(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStorage(newTestDB(t), common.GetLogger())

	profile := models.NewDiscoveredProfile("https://profiles.example.com/in/jane-doe", models.DiscoveryMeta{
		Query:        `"Jane Doe" "Acme Corp" site:profiles.example.com`,
		Provider:     "searx",
		DiscoveredAt: time.Now(),
		Confidence:   0.9,
	})
	require.NoError(t, store.SaveProfile(ctx, profile))

	got, err := store.GetProfileByURL(ctx, "https://profiles.example.com/in/jane-doe")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, got.ID)
	assert.Equal(t, models.ProfileStatusDiscovered, got.Status)

	_, err = store.GetProfileByURL(ctx, "https://profiles.example.com/in/nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfileStorage_ListByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStorage(newTestDB(t), common.GetLogger())

	for i, status := range []models.ProfileStatus{
		models.ProfileStatusDiscovered,
		models.ProfileStatusExtracted,
		models.ProfileStatusExtracted,
	} {
		p := models.NewDiscoveredProfile(
			"https://profiles.example.com/in/person-"+string(rune('a'+i)),
			models.DiscoveryMeta{Provider: "test", DiscoveredAt: time.Now()},
		)
		p.Status = status
		require.NoError(t, store.SaveProfile(ctx, p))
	}

	extracted, err := store.ListProfiles(ctx, &interfaces.ProfileListOptions{Status: string(models.ProfileStatusExtracted)})
	require.NoError(t, err)
	assert.Len(t, extracted, 2)
}

func TestProfileStorage_FindBySubject(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStorage(newTestDB(t), common.GetLogger())

	p := models.NewDiscoveredProfile("https://profiles.example.com/in/jane-doe", models.DiscoveryMeta{Provider: "test", DiscoveredAt: time.Now()})
	p.Extracted = &models.ExtractedProfile{Identity: "Jane Doe"}
	require.NoError(t, store.SaveProfile(ctx, p))

	other := models.NewDiscoveredProfile("https://profiles.example.com/in/john-smith", models.DiscoveryMeta{Provider: "test", DiscoveredAt: time.Now()})
	other.Extracted = &models.ExtractedProfile{Identity: "John Smith"}
	require.NoError(t, store.SaveProfile(ctx, other))

	matches, err := store.FindProfilesBySubject(ctx, "jane doe")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, p.ID, matches[0].ID)
}

func TestProfileStorage_ListUpdatedBefore(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStorage(newTestDB(t), common.GetLogger())

	old := models.NewDiscoveredProfile("https://profiles.example.com/in/old-record", models.DiscoveryMeta{Provider: "test", DiscoveredAt: time.Now()})
	require.NoError(t, store.SaveProfile(ctx, old))

	// Backdate by rewriting through the raw store
	db := store.(*ProfileStorage).db
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Store().Upsert(old.ID, old))

	fresh := models.NewDiscoveredProfile("https://profiles.example.com/in/fresh-record", models.DiscoveryMeta{Provider: "test", DiscoveredAt: time.Now()})
	require.NoError(t, store.SaveProfile(ctx, fresh))

	expired, err := store.ListProfilesUpdatedBefore(ctx,
		[]models.ProfileStatus{models.ProfileStatusDiscovered},
		time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}
