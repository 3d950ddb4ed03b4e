package ingestion

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/extract"
	"github.com/cornermap/sync-service/internal/geocode"
	"github.com/cornermap/sync-service/internal/models"
	"github.com/cornermap/sync-service/internal/normalize"
	"github.com/cornermap/sync-service/internal/sources"
	"github.com/cornermap/sync-service/internal/storage"
)

// MockExtractor is a mock implementation of the Extractor interface
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockExtractor) Discover(ctx context.Context, sourceURL string) ([]string, error) {
	args := m.Called(ctx, sourceURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockExtractor) FetchEventDetails(ctx context.Context, url string) (models.RawEventDetails, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(models.RawEventDetails), args.Error(1)
}

func (m *MockExtractor) FetchPlaces(ctx context.Context, sourceURL string) ([]models.RawPlace, error) {
	args := m.Called(ctx, sourceURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawPlace), args.Error(1)
}

// stubGeocoder resolves every address to a fixed coordinate pair.
type stubGeocoder struct {
	coords *geocode.Coords
	calls  int
}

func (g *stubGeocoder) Resolve(ctx context.Context, address string) (*geocode.Coords, error) {
	g.calls++
	return g.coords, nil
}

func newTestStore(t *testing.T, remote *storage.Remote) *storage.Store {
	t.Helper()
	local, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return storage.NewStore(local, remote)
}

func newTestNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()
	pattern := regexp.MustCompile(`/events?/[^/?#]+/?$`)
	normalizer, err := normalize.New(config.Sync{EventScoreThreshold: 6, SpotScoreThreshold: 4}, pattern.MatchString)
	require.NoError(t, err)
	return normalizer
}

func newTestService(t *testing.T, extractor Extractor, srcCfg config.Sources, geocoder Geocoder) (*Service, *storage.Store) {
	t.Helper()

	store := newTestStore(t, nil)
	provider := sources.NewProvider(nil, srcCfg)
	if geocoder == nil {
		geocoder = &stubGeocoder{}
	}

	svc := NewService(provider, extractor, newTestNormalizer(t), geocoder, store,
		config.Extract{MaxCandidates: 10, ChunkSize: 4})
	return svc, store
}

func TestService_Sync_PartialEventFailure(t *testing.T) {
	goodURL := "https://city.example/events/jazz-night"
	badURL := "https://city.example/events/broken-page"

	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("Discover", mock.Anything, "https://city.example/events").
		Return([]string{goodURL, badURL}, nil)
	extractor.On("FetchEventDetails", mock.Anything, goodURL).Return(models.RawEventDetails{
		Name:              "Jazz Night",
		URL:               goodURL,
		Description:       "Live sets until late.",
		StartDateTimeText: "June 21, 2025",
		StartDateISO:      "2025-06-21",
		LocationText:      "Pier 3",
		Address:           "12 Canal St",
	}, nil)
	extractor.On("FetchEventDetails", mock.Anything, badURL).
		Return(models.RawEventDetails{}, assert.AnError)

	geocoder := &stubGeocoder{coords: &geocode.Coords{Lat: 37.77, Lng: -122.42}}
	svc, store := newTestService(t, extractor, config.Sources{
		EventSourceURLs: []string{"https://city.example/events"},
	}, geocoder)

	snapshot, err := svc.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, "Jazz Night", snapshot.Events[0].Name)
	require.Len(t, snapshot.IngestionErrors, 1)
	assert.Equal(t, models.StageDetails, snapshot.IngestionErrors[0].Stage)
	assert.Equal(t, badURL, snapshot.IngestionErrors[0].EventURL)
	assert.Equal(t, 1, snapshot.EventCount)
	assert.Equal(t, 0, snapshot.SpotCount)

	// Geocode enrichment filled in the missing coordinates via the address.
	require.NotNil(t, snapshot.Events[0].Lat)
	assert.InDelta(t, 37.77, *snapshot.Events[0].Lat, 1e-9)
	assert.Equal(t, 1, geocoder.calls)

	// The snapshot was persisted locally.
	persisted, err := store.Local.ReadSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 1, persisted.EventCount)

	extractor.AssertExpectations(t)
}

func TestService_Sync_PlaceDedupKeepsRicherDuplicate(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("FetchPlaces", mock.Anything, "https://city.example/spots").Return([]models.RawPlace{
		{Name: "Harbor Light", Location: "Old Harbor", CornerLink: "https://city.example/corners/harbor-light"},
		{
			Name:        "Harbor Light",
			Location:    "Old Harbor",
			CornerLink:  "https://city.example/corners/harbor-light",
			Description: "Quiet corner spot.",
			Details:     "Open from 8am.",
		},
		{Name: "Anchor Bar", Location: "South Pier", Tag: "bar"},
	}, nil)

	svc, _ := newTestService(t, extractor, config.Sources{
		SpotSourceURLs: []string{"https://city.example/spots"},
	}, nil)

	snapshot, err := svc.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, snapshot.Places, 2)
	assert.Empty(t, snapshot.IngestionErrors)

	var harborLight *models.NormalizedPlace
	for i := range snapshot.Places {
		if snapshot.Places[i].Name == "Harbor Light" {
			harborLight = &snapshot.Places[i]
		}
	}
	require.NotNil(t, harborLight)
	assert.Equal(t, "Quiet corner spot.", harborLight.Description, "higher-scoring duplicate wins")

	extractor.AssertExpectations(t)
}

func TestService_Sync_ZeroDiscoveriesBecomeIngestionError(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("Discover", mock.Anything, "https://city.example/calendar").Return([]string{}, nil)

	svc, _ := newTestService(t, extractor, config.Sources{
		EventSourceURLs: []string{"https://city.example/calendar"},
	}, nil)

	snapshot, err := svc.Sync(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snapshot.Events)
	require.Len(t, snapshot.IngestionErrors, 1)
	assert.Equal(t, models.StageDiscover, snapshot.IngestionErrors[0].Stage)
}

func TestService_Sync_MissingCredentialIsFatal(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Ready").Return(false)

	svc, _ := newTestService(t, extractor, config.Sources{
		EventSourceURLs: []string{"https://city.example/events"},
	}, nil)

	_, err := svc.Sync(context.Background())
	assert.ErrorIs(t, err, extract.ErrNoAPIKey)
}

func TestService_Sync_ConcurrentCallersShareOneRun(t *testing.T) {
	var discoverStarted sync.Once
	started := make(chan struct{})

	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("Discover", mock.Anything, "https://city.example/events").
		Run(func(args mock.Arguments) {
			discoverStarted.Do(func() { close(started) })
			time.Sleep(100 * time.Millisecond)
		}).
		Return([]string{"https://city.example/events/jazz-night"}, nil)
	extractor.On("FetchEventDetails", mock.Anything, "https://city.example/events/jazz-night").
		Return(models.RawEventDetails{Name: "Jazz Night", URL: "https://city.example/events/jazz-night"}, nil)

	svc, _ := newTestService(t, extractor, config.Sources{
		EventSourceURLs: []string{"https://city.example/events"},
	}, nil)

	var (
		wg        sync.WaitGroup
		snapshots [2]*models.SyncSnapshot
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		snap, err := svc.Sync(context.Background())
		require.NoError(t, err)
		snapshots[0] = snap
	}()

	<-started
	snap, err := svc.Sync(context.Background())
	require.NoError(t, err)
	snapshots[1] = snap
	wg.Wait()

	assert.Same(t, snapshots[0], snapshots[1], "both callers must receive the identical snapshot")
	extractor.AssertNumberOfCalls(t, "Discover", 1)
}

func TestService_SyncOne_ScopesToSingleSource(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("FetchPlaces", mock.Anything, "https://city.example/spots").Return([]models.RawPlace{
		{Name: "Harbor Light", Location: "Old Harbor"},
	}, nil)

	svc, _ := newTestService(t, extractor, config.Sources{
		EventSourceURLs: []string{"https://city.example/events"},
		SpotSourceURLs:  []string{"https://city.example/spots"},
	}, nil)

	snapshot, err := svc.SyncOne(context.Background(), "fallback-spot-1")
	require.NoError(t, err)

	assert.Equal(t, 1, snapshot.SpotCount)
	assert.Equal(t, []string{"https://city.example/spots"}, snapshot.SourceURLs)
	extractor.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything)
}

func TestService_SyncOne_UnknownSource(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)

	svc, _ := newTestService(t, extractor, config.Sources{
		EventSourceURLs: []string{"https://city.example/events"},
	}, nil)

	_, err := svc.SyncOne(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.Contains(t, err.Error(), "nope")
}

func TestService_Sync_TruncatesCandidatesToLimit(t *testing.T) {
	listingURL := "https://city.example/events"
	discovered := []string{
		"https://city.example/events/one",
		"https://city.example/events/two",
		"https://city.example/events/three",
	}

	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("Discover", mock.Anything, listingURL).Return(discovered, nil)
	// Expectations exist only for the first two candidates; a fetch of the
	// third would fail the test as an unexpected call.
	for _, url := range discovered[:2] {
		extractor.On("FetchEventDetails", mock.Anything, url).
			Return(models.RawEventDetails{Name: "Event " + url, URL: url}, nil)
	}

	store := newTestStore(t, nil)
	provider := sources.NewProvider(nil, config.Sources{EventSourceURLs: []string{listingURL}})
	svc := NewService(provider, extractor, newTestNormalizer(t), &stubGeocoder{}, store,
		config.Extract{MaxCandidates: 2, ChunkSize: 4})

	snapshot, err := svc.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, snapshot.EventCount)
	extractor.AssertNumberOfCalls(t, "FetchEventDetails", 2)
}

// memBackend is an in-memory storage.RemoteBackend.
type memBackend struct {
	entries map[string]map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{entries: make(map[string]map[string][]byte)}
}

func (m *memBackend) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	return m.entries[table][key], nil
}

func (m *memBackend) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	if m.entries[table] == nil {
		m.entries[table] = make(map[string][]byte)
	}
	m.entries[table][key] = payload
	return nil
}

func (m *memBackend) ListEntries(ctx context.Context, table string) (map[string][]byte, error) {
	return m.entries[table], nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) seedSource(t *testing.T, src models.Source) {
	t.Helper()
	payload, err := json.Marshal(src)
	require.NoError(t, err)
	require.NoError(t, m.PutEntry(context.Background(), storage.TableSources, src.ID, payload))
}

func (m *memBackend) readSource(t *testing.T, id string) models.Source {
	t.Helper()
	payload := m.entries[storage.TableSources][id]
	require.NotNil(t, payload)
	var src models.Source
	require.NoError(t, json.Unmarshal(payload, &src))
	return src
}

func TestService_Sync_StatusWritesSkipReadonlySources(t *testing.T) {
	backend := newMemBackend()
	backend.seedSource(t, models.Source{
		ID:         "ev-ro",
		SourceType: models.SourceTypeEvent,
		URL:        "https://city.example/events",
		Status:     models.SourceStatusActive,
		ReadOnly:   true,
	})
	backend.seedSource(t, models.Source{
		ID:         "sp-rw",
		SourceType: models.SourceTypeSpot,
		URL:        "https://city.example/spots",
		Status:     models.SourceStatusActive,
	})
	remote := storage.NewRemoteWithBackend(backend)

	itemURL := "https://city.example/events/jazz-night"
	extractor := new(MockExtractor)
	extractor.On("Ready").Return(true)
	extractor.On("Discover", mock.Anything, "https://city.example/events").
		Return([]string{itemURL}, nil)
	extractor.On("FetchEventDetails", mock.Anything, itemURL).
		Return(models.RawEventDetails{Name: "Jazz Night", URL: itemURL}, nil)
	extractor.On("FetchPlaces", mock.Anything, "https://city.example/spots").
		Return([]models.RawPlace{{Name: "Harbor Light", Location: "Old Harbor"}}, nil)

	store := newTestStore(t, remote)
	provider := sources.NewProvider(remote, config.Sources{})
	svc := NewService(provider, extractor, newTestNormalizer(t), &stubGeocoder{}, store,
		config.Extract{MaxCandidates: 10, ChunkSize: 4})

	snapshot, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.EventCount)
	assert.Equal(t, 1, snapshot.SpotCount)

	// Only the non-readonly source gets a status write.
	rw := backend.readSource(t, "sp-rw")
	assert.Equal(t, snapshot.SyncedAt, rw.LastSyncedAt)
	ro := backend.readSource(t, "ev-ro")
	assert.True(t, ro.LastSyncedAt.IsZero())

	// The snapshot was mirrored to the remote store.
	assert.NotNil(t, backend.entries[storage.TableSnapshot])
}
