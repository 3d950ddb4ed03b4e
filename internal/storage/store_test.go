package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cornermap/sync-service/internal/models"
)

func newTestLocal(t *testing.T) *LocalStore {
	t.Helper()
	local, err := NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return local
}

func TestLocalStore_SnapshotRoundTrip(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	// Empty store reads back nil, not an error.
	snap, err := local.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	want := &models.SyncSnapshot{
		SyncedAt:        time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC),
		SourceURLs:      []string{"https://city.example/events"},
		EventCount:      1,
		IngestionErrors: []models.IngestionError{},
		Events: []models.NormalizedEvent{
			{ID: "ev-1", Name: "Jazz Night", EventURL: "https://city.example/events/jazz-night", Confidence: 1.0},
		},
	}
	require.NoError(t, local.WriteSnapshot(ctx, want))

	got, err := local.ReadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.SyncedAt, got.SyncedAt)
	assert.Equal(t, want.Events, got.Events)

	// A second write replaces the first, there is only ever one snapshot row.
	want.EventCount = 2
	require.NoError(t, local.WriteSnapshot(ctx, want))
	got, err = local.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EventCount)
}

func TestLocalStore_CacheBucketsAreIsolated(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, local.SetCache(ctx, BucketGeocode, "k", []byte(`{"lat":1}`)))

	payload, err := local.GetCache(ctx, BucketGeocode, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":1}`, string(payload))

	// Same key in a different bucket is a miss.
	payload, err = local.GetCache(ctx, BucketRoute, "k")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestStore_LoadSnapshotFallsBackToSample(t *testing.T) {
	store := NewStore(newTestLocal(t), nil)

	snap, err := store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.NotEmpty(t, snap.Events, "sample data must seed the first read")
	assert.NotEmpty(t, snap.Places)
}

func TestStore_SaveThenLoadPrefersPersisted(t *testing.T) {
	store := NewStore(newTestLocal(t), nil)
	ctx := context.Background()

	want := &models.SyncSnapshot{
		SyncedAt:   time.Now().UTC().Truncate(time.Second),
		EventCount: 3,
	}
	require.NoError(t, store.SaveSnapshot(ctx, want))

	got, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EventCount, "persisted snapshot wins over the sample")
}

func TestLayeredCache_LocalOnly(t *testing.T) {
	store := NewStore(newTestLocal(t), nil)
	cache := store.GeocodeCache()
	ctx := context.Background()

	payload, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, payload)

	require.NoError(t, cache.Put(ctx, "12 canal st", []byte(`{"lat":37.77,"lng":-122.42}`)))

	payload, err = cache.Get(ctx, "12 canal st")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":37.77,"lng":-122.42}`, string(payload))
}
