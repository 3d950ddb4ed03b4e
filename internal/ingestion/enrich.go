package ingestion

import (
	"context"
	"log"

	"github.com/cornermap/sync-service/internal/geocode"
	"github.com/cornermap/sync-service/internal/models"
)

// enrichEvents fills in missing coordinates, preferring a map-link-embedded
// pair before falling back to address geocoding.
func (s *Service) enrichEvents(ctx context.Context, events []models.NormalizedEvent) {
	for i := range events {
		e := &events[i]
		if e.Lat != nil && e.Lng != nil {
			continue
		}

		if coords := geocode.ParseMapLink(e.GoogleMapsURL); coords != nil {
			e.Lat, e.Lng = &coords.Lat, &coords.Lng
			continue
		}

		address := e.Address
		if address == "" {
			address = e.LocationText
		}
		if address == "" {
			continue
		}

		coords, err := s.geocoder.Resolve(ctx, address)
		if err != nil {
			log.Printf("ingestion: geocode for event %q failed: %v", e.Name, err)
			continue
		}
		if coords != nil {
			e.Lat, e.Lng = &coords.Lat, &coords.Lng
		}
	}
}

// enrichPlaces mirrors enrichEvents for places, using the map link then the
// location text.
func (s *Service) enrichPlaces(ctx context.Context, places []models.NormalizedPlace) {
	for i := range places {
		p := &places[i]
		if p.Lat != nil && p.Lng != nil {
			continue
		}

		if coords := geocode.ParseMapLink(p.MapLink); coords != nil {
			p.Lat, p.Lng = &coords.Lat, &coords.Lng
			continue
		}

		if p.Location == "" {
			continue
		}
		coords, err := s.geocoder.Resolve(ctx, p.Location)
		if err != nil {
			log.Printf("ingestion: geocode for place %q failed: %v", p.Name, err)
			continue
		}
		if coords != nil {
			p.Lat, p.Lng = &coords.Lat, &coords.Lng
		}
	}
}
