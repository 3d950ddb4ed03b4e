package ingestion

import (
	"context"

	"github.com/cornermap/sync-service/internal/models"
	"github.com/cornermap/sync-service/internal/normalize"
)

// syncPlaces extracts and normalizes places per spot source. Place listings
// are a single structured call each, so sources are processed in order with
// no per-item fan-out.
func (s *Service) syncPlaces(ctx context.Context, spotSources []models.Source) ([]models.NormalizedPlace, []models.IngestionError) {
	var (
		places []models.NormalizedPlace
		errs   []models.IngestionError
	)

	for _, src := range spotSources {
		raws, err := s.extractor.FetchPlaces(ctx, src.URL)
		if err != nil {
			errs = append(errs, models.IngestionError{
				SourceType: models.SourceTypeSpot,
				SourceID:   src.ID,
				SourceURL:  src.URL,
				Stage:      models.StageExtract,
				Message:    err.Error(),
			})
			continue
		}

		normalized := s.normalizer.Spots(raws, src)
		if len(normalized) == 0 {
			errs = append(errs, models.IngestionError{
				SourceType: models.SourceTypeSpot,
				SourceID:   src.ID,
				SourceURL:  src.URL,
				Stage:      models.StageNormalize,
				Message:    "place listing yielded zero usable rows",
			})
			continue
		}

		places = append(places, normalized...)
	}

	// Cross-source dedup plus the final (tag, name) ordering.
	return normalize.DedupPlaces(places), errs
}
