package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cornermap/sync-service/internal/models"
)

// fakeBackend is an in-memory RemoteBackend.
type fakeBackend struct {
	entries map[string]map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{entries: make(map[string]map[string][]byte)}
}

func (f *fakeBackend) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	return f.entries[table][key], nil
}

func (f *fakeBackend) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	if f.entries[table] == nil {
		f.entries[table] = make(map[string][]byte)
	}
	f.entries[table][key] = payload
	return nil
}

func (f *fakeBackend) ListEntries(ctx context.Context, table string) (map[string][]byte, error) {
	return f.entries[table], nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) seedSource(t *testing.T, src models.Source) {
	t.Helper()
	payload, err := json.Marshal(src)
	require.NoError(t, err)
	require.NoError(t, f.PutEntry(context.Background(), TableSources, src.ID, payload))
}

// failingBackend errors on every operation, standing in for an unreachable
// remote store.
type failingBackend struct{}

func (failingBackend) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	return nil, assert.AnError
}

func (failingBackend) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	return assert.AnError
}

func (failingBackend) ListEntries(ctx context.Context, table string) (map[string][]byte, error) {
	return nil, assert.AnError
}

func (failingBackend) Close() error { return nil }

func TestStore_LoadSnapshotPrefersRemote(t *testing.T) {
	local := newTestLocal(t)
	remote := NewRemoteWithBackend(newFakeBackend())
	store := NewStore(local, remote)
	ctx := context.Background()

	require.NoError(t, local.WriteSnapshot(ctx, &models.SyncSnapshot{EventCount: 1}))
	require.NoError(t, remote.SaveSnapshot(ctx, &models.SyncSnapshot{EventCount: 7}))

	got, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, got.EventCount, "remote snapshot wins over local")
}

func TestStore_LoadSnapshotFallsBackWhenRemoteFails(t *testing.T) {
	local := newTestLocal(t)
	store := NewStore(local, NewRemoteWithBackend(failingBackend{}))
	ctx := context.Background()

	require.NoError(t, local.WriteSnapshot(ctx, &models.SyncSnapshot{EventCount: 1}))

	got, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EventCount)
}

func TestStore_SaveSnapshotMirrorFailureIsSwallowed(t *testing.T) {
	local := newTestLocal(t)
	store := NewStore(local, NewRemoteWithBackend(failingBackend{}))
	ctx := context.Background()

	err := store.SaveSnapshot(ctx, &models.SyncSnapshot{EventCount: 3})
	require.NoError(t, err, "only the local write may fail the save")

	got, err := local.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EventCount)
}

func TestStore_SaveSnapshotMirrorsToRemote(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(newTestLocal(t), NewRemoteWithBackend(backend))
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, &models.SyncSnapshot{EventCount: 2}))

	mirrored := backend.entries[TableSnapshot][snapshotKey]
	require.NotNil(t, mirrored)
	var snap models.SyncSnapshot
	require.NoError(t, json.Unmarshal(mirrored, &snap))
	assert.Equal(t, 2, snap.EventCount)
}

func TestLayeredCache_RemoteHitWritesBackLocally(t *testing.T) {
	local := newTestLocal(t)
	backend := newFakeBackend()
	store := NewStore(local, NewRemoteWithBackend(backend))
	ctx := context.Background()

	require.NoError(t, backend.PutEntry(ctx, TableGeocodeCache, "12 canal st", []byte(`{"lat":1,"lng":2}`)))

	payload, err := store.GeocodeCache().Get(ctx, "12 canal st")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":1,"lng":2}`, string(payload))

	// The remote hit is now cached locally too.
	localCopy, err := local.GetCache(ctx, BucketGeocode, "12 canal st")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":1,"lng":2}`, string(localCopy))
}

func TestLayeredCache_RemoteFailureIsAMiss(t *testing.T) {
	store := NewStore(newTestLocal(t), NewRemoteWithBackend(failingBackend{}))

	payload, err := store.GeocodeCache().Get(context.Background(), "somewhere")
	require.NoError(t, err, "an unreachable remote must not surface as an error")
	assert.Nil(t, payload)
}

func TestLayeredCache_PutMirrorsToRemote(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(newTestLocal(t), NewRemoteWithBackend(backend))
	ctx := context.Background()

	require.NoError(t, store.RouteCache().Put(ctx, "walk-1", []byte(`{"stops":[]}`)))

	assert.JSONEq(t, `{"stops":[]}`, string(backend.entries[TableRouteCache]["walk-1"]))
}

func TestRemote_ListSourcesSortedByID(t *testing.T) {
	backend := newFakeBackend()
	remote := NewRemoteWithBackend(backend)

	backend.seedSource(t, models.Source{ID: "src-b", SourceType: models.SourceTypeSpot, Status: models.SourceStatusActive})
	backend.seedSource(t, models.Source{ID: "src-a", SourceType: models.SourceTypeEvent, Status: models.SourceStatusActive})

	sources, err := remote.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "src-a", sources[0].ID)
	assert.Equal(t, "src-b", sources[1].ID)
}

func TestRemote_UpdateSourceStatus(t *testing.T) {
	backend := newFakeBackend()
	remote := NewRemoteWithBackend(backend)
	ctx := context.Background()

	backend.seedSource(t, models.Source{
		ID:         "src-1",
		SourceType: models.SourceTypeEvent,
		URL:        "https://city.example/events",
		Status:     models.SourceStatusActive,
	})

	syncedAt := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	require.NoError(t, remote.UpdateSourceStatus(ctx, "src-1", syncedAt, "discovery failed"))

	sources, err := remote.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, syncedAt, sources[0].LastSyncedAt)
	assert.Equal(t, "discovery failed", sources[0].LastError)
	// The rest of the record is untouched.
	assert.Equal(t, "https://city.example/events", sources[0].URL)
	assert.Equal(t, models.SourceStatusActive, sources[0].Status)
}

func TestRemote_UpdateSourceStatusIgnoresUnknownID(t *testing.T) {
	backend := newFakeBackend()
	remote := NewRemoteWithBackend(backend)

	err := remote.UpdateSourceStatus(context.Background(), "nope", time.Now(), "")
	require.NoError(t, err)
	assert.Empty(t, backend.entries[TableSources])
}

func TestStore_PlannerStatePassthrough(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(newTestLocal(t), NewRemoteWithBackend(backend))
	ctx := context.Background()

	payload, err := store.PlannerState(ctx, "day-1")
	require.NoError(t, err)
	assert.Nil(t, payload)

	require.NoError(t, store.SavePlannerState(ctx, "day-1", []byte(`{"stops":["a"]}`)))

	payload, err = store.PlannerState(ctx, "day-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stops":["a"]}`, string(payload))
}

func TestStore_PlannerStateRequiresRemote(t *testing.T) {
	store := NewStore(newTestLocal(t), nil)
	ctx := context.Background()

	payload, err := store.PlannerState(ctx, "day-1")
	require.NoError(t, err)
	assert.Nil(t, payload)

	err = store.SavePlannerState(ctx, "day-1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoRemote)
}
