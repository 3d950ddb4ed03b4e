package ingestion

import (
	"context"
	"sync"

	"github.com/cornermap/sync-service/internal/models"
	"github.com/cornermap/sync-service/internal/normalize"
)

// candidate is one discovered event URL tied back to its originating source.
type candidate struct {
	url    string
	source models.Source
}

// syncEvents runs discovery across the event sources and fetches details for
// the candidate set in fixed-size concurrent chunks. Item failures become
// ingestion errors; the batch never aborts.
func (s *Service) syncEvents(ctx context.Context, eventSources []models.Source) ([]models.NormalizedEvent, []models.IngestionError) {
	candidates, errs := s.discoverCandidates(ctx, eventSources)

	if len(candidates) > s.maxCandidates {
		candidates = candidates[:s.maxCandidates]
	}

	var events []models.NormalizedEvent
	for start := 0; start < len(candidates); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(candidates) {
			end = len(candidates)
		}

		chunkEvents, chunkErrs := s.fetchChunk(ctx, candidates[start:end])
		events = append(events, chunkEvents...)
		errs = append(errs, chunkErrs...)
	}

	return normalize.DedupEvents(events), errs
}

// discoverCandidates iterates the sources in order and merges discovered
// URLs first-writer-wins, keeping candidate attribution deterministic.
func (s *Service) discoverCandidates(ctx context.Context, eventSources []models.Source) ([]candidate, []models.IngestionError) {
	var (
		candidates []candidate
		errs       []models.IngestionError
	)
	seen := make(map[string]bool)

	for _, src := range eventSources {
		urls, err := s.extractor.Discover(ctx, src.URL)
		if err != nil {
			errs = append(errs, models.IngestionError{
				SourceType: models.SourceTypeEvent,
				SourceID:   src.ID,
				SourceURL:  src.URL,
				Stage:      models.StageDiscover,
				Message:    err.Error(),
			})
			continue
		}
		if len(urls) == 0 {
			errs = append(errs, models.IngestionError{
				SourceType: models.SourceTypeEvent,
				SourceID:   src.ID,
				SourceURL:  src.URL,
				Stage:      models.StageDiscover,
				Message:    "no candidate URLs discovered",
			})
			continue
		}
		for _, url := range urls {
			if seen[url] {
				continue
			}
			seen[url] = true
			candidates = append(candidates, candidate{url: url, source: src})
		}
	}

	return candidates, errs
}

// chunkOutcome is one candidate's result slot; each goroutine writes only its
// own slot, so the chunk merges back without shared mutable state.
type chunkOutcome struct {
	event  *models.NormalizedEvent
	ingErr *models.IngestionError
}

// fetchChunk fetches a chunk's candidates concurrently and waits for every
// outcome; a failing sibling never cancels the rest of the chunk.
func (s *Service) fetchChunk(ctx context.Context, chunk []candidate) ([]models.NormalizedEvent, []models.IngestionError) {
	outcomes := make([]chunkOutcome, len(chunk))

	var wg sync.WaitGroup
	for i, item := range chunk {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = s.fetchOne(ctx, item)
		}()
	}
	wg.Wait()

	var (
		events []models.NormalizedEvent
		errs   []models.IngestionError
	)
	for _, outcome := range outcomes {
		if outcome.event != nil {
			events = append(events, *outcome.event)
		}
		if outcome.ingErr != nil {
			errs = append(errs, *outcome.ingErr)
		}
	}
	return events, errs
}

// fetchOne fetches and immediately normalizes one candidate.
func (s *Service) fetchOne(ctx context.Context, item candidate) chunkOutcome {
	raw, err := s.extractor.FetchEventDetails(ctx, item.url)
	if err != nil {
		return chunkOutcome{ingErr: &models.IngestionError{
			SourceType: models.SourceTypeEvent,
			SourceID:   item.source.ID,
			SourceURL:  item.source.URL,
			EventURL:   item.url,
			Stage:      models.StageDetails,
			Message:    err.Error(),
		}}
	}

	event := s.normalizer.Event(raw, item.source)
	if event == nil {
		return chunkOutcome{ingErr: &models.IngestionError{
			SourceType: models.SourceTypeEvent,
			SourceID:   item.source.ID,
			SourceURL:  item.source.URL,
			EventURL:   item.url,
			Stage:      models.StageNormalize,
			Message:    "extracted payload is missing required event fields",
		}}
	}

	return chunkOutcome{event: event}
}
