// Package ingestion coordinates the full sync pipeline: source snapshot,
// discovery, detail and place extraction, normalization, geocode enrichment,
// and dual-destination persistence.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/extract"
	"github.com/cornermap/sync-service/internal/geocode"
	"github.com/cornermap/sync-service/internal/models"
	"github.com/cornermap/sync-service/internal/normalize"
	"github.com/cornermap/sync-service/internal/sources"
	"github.com/cornermap/sync-service/internal/storage"
)

// Extractor is the slice of the extraction client the pipeline consumes.
type Extractor interface {
	Ready() bool
	Discover(ctx context.Context, sourceURL string) ([]string, error)
	FetchEventDetails(ctx context.Context, url string) (models.RawEventDetails, error)
	FetchPlaces(ctx context.Context, sourceURL string) ([]models.RawPlace, error)
}

// ErrUnknownSource is returned when a per-source sync names a source id that
// is not part of the active set.
var ErrUnknownSource = errors.New("unknown source")

// Geocoder resolves an address to coordinates, or nil when unresolvable.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (*geocode.Coords, error)
}

// Service is the sync orchestrator. All item-level failures degrade to
// ingestion errors on the returned snapshot; only a missing extraction
// credential is fatal.
type Service struct {
	provider   *sources.Provider
	extractor  Extractor
	normalizer *normalize.Normalizer
	geocoder   Geocoder
	store      *storage.Store

	maxCandidates int
	chunkSize     int

	// Collapses concurrent sync triggers for the same target into a single
	// in-flight run whose snapshot every waiting caller shares.
	group singleflight.Group
}

// NewService wires the orchestrator together.
func NewService(provider *sources.Provider, extractor Extractor, normalizer *normalize.Normalizer,
	geocoder Geocoder, store *storage.Store, cfg config.Extract) *Service {
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 24
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4
	}

	return &Service{
		provider:      provider,
		extractor:     extractor,
		normalizer:    normalizer,
		geocoder:      geocoder,
		store:         store,
		maxCandidates: maxCandidates,
		chunkSize:     chunkSize,
	}
}

// Sync runs the full pipeline across every active source and returns the
// persisted snapshot. Concurrent callers join the in-flight run; a new run
// starts only after the previous one has settled.
func (s *Service) Sync(ctx context.Context) (*models.SyncSnapshot, error) {
	v, err, _ := s.group.Do("all", func() (interface{}, error) {
		return s.runSync(ctx, "")
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SyncSnapshot), nil
}

// SyncOne runs the pipeline scoped to a single source and updates only that
// source's status.
func (s *Service) SyncOne(ctx context.Context, sourceID string) (*models.SyncSnapshot, error) {
	v, err, _ := s.group.Do("source:"+sourceID, func() (interface{}, error) {
		return s.runSync(ctx, sourceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SyncSnapshot), nil
}

func (s *Service) runSync(ctx context.Context, onlySourceID string) (*models.SyncSnapshot, error) {
	if !s.extractor.Ready() {
		return nil, extract.ErrNoAPIKey
	}

	snapshot := s.provider.Snapshot(ctx)
	if onlySourceID != "" {
		filtered, err := scopeToSource(snapshot, onlySourceID)
		if err != nil {
			return nil, err
		}
		snapshot = filtered
	}

	var ingestionErrors []models.IngestionError

	events, eventErrs := s.syncEvents(ctx, snapshot.EventSources)
	ingestionErrors = append(ingestionErrors, eventErrs...)

	places, placeErrs := s.syncPlaces(ctx, snapshot.SpotSources)
	ingestionErrors = append(ingestionErrors, placeErrs...)

	s.enrichEvents(ctx, events)
	s.enrichPlaces(ctx, places)

	result := &models.SyncSnapshot{
		SyncedAt:        time.Now().UTC(),
		SourceURLs:      sourceURLs(snapshot),
		EventCount:      len(events),
		SpotCount:       len(places),
		IngestionErrors: ingestionErrors,
		Events:          events,
		Places:          places,
	}
	if result.IngestionErrors == nil {
		result.IngestionErrors = []models.IngestionError{}
	}

	if err := s.store.SaveSnapshot(ctx, result); err != nil {
		log.Printf("ingestion: local snapshot write failed: %v", err)
	}

	s.updateSourceStatuses(ctx, snapshot, result)

	log.Printf("ingestion: sync finished, %d events, %d places, %d ingestion errors",
		result.EventCount, result.SpotCount, len(result.IngestionErrors))

	return result, nil
}

// scopeToSource narrows a source snapshot to exactly one source.
func scopeToSource(snapshot models.SourceSnapshot, sourceID string) (models.SourceSnapshot, error) {
	for _, src := range snapshot.EventSources {
		if src.ID == sourceID {
			return models.SourceSnapshot{EventSources: []models.Source{src}}, nil
		}
	}
	for _, src := range snapshot.SpotSources {
		if src.ID == sourceID {
			return models.SourceSnapshot{SpotSources: []models.Source{src}}, nil
		}
	}
	return models.SourceSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
}

func sourceURLs(snapshot models.SourceSnapshot) []string {
	urls := make([]string, 0, len(snapshot.EventSources)+len(snapshot.SpotSources))
	for _, src := range snapshot.EventSources {
		urls = append(urls, src.URL)
	}
	for _, src := range snapshot.SpotSources {
		urls = append(urls, src.URL)
	}
	return urls
}

// updateSourceStatuses writes lastSyncedAt plus the first error message per
// non-readonly source. Best-effort: registry write failures are logged only.
func (s *Service) updateSourceStatuses(ctx context.Context, snapshot models.SourceSnapshot, result *models.SyncSnapshot) {
	if s.store.Remote == nil {
		return
	}

	firstError := make(map[string]string)
	for _, ingErr := range result.IngestionErrors {
		if _, ok := firstError[ingErr.SourceID]; !ok {
			firstError[ingErr.SourceID] = ingErr.Message
		}
	}

	for _, src := range append(snapshot.EventSources, snapshot.SpotSources...) {
		if src.ReadOnly {
			continue
		}
		if err := s.store.Remote.UpdateSourceStatus(ctx, src.ID, result.SyncedAt, firstError[src.ID]); err != nil {
			log.Printf("ingestion: status update for source %s failed: %v", src.ID, err)
		}
	}
}
