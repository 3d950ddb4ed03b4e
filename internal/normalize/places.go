package normalize

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cornermap/sync-service/internal/models"
)

// Spots converts raw place rows into canonical, scored, deduplicated places
// sorted by (tag, name). Rows missing a name or location are dropped.
func (n *Normalizer) Spots(raws []models.RawPlace, source models.Source) []models.NormalizedPlace {
	var places []models.NormalizedPlace

	for _, raw := range raws {
		place := n.Spot(raw, source)
		if place != nil {
			places = append(places, *place)
		}
	}

	return DedupPlaces(places)
}

// Spot normalizes a single raw place row, or returns nil when it is missing
// its name or location.
func (n *Normalizer) Spot(raw models.RawPlace, source models.Source) *models.NormalizedPlace {
	name := strings.TrimSpace(raw.Name)
	location := strings.TrimSpace(raw.Location)
	if name == "" || location == "" {
		return nil
	}

	place := &models.NormalizedPlace{
		ID:             uuid.New().String(),
		Name:           name,
		Tag:            n.classifyTag(raw),
		Location:       location,
		MapLink:        defaultMapLink(raw.MapLink, location),
		CornerLink:     strings.TrimSpace(raw.CornerLink),
		CuratorComment: strings.TrimSpace(raw.CuratorComment),
		Description:    strings.TrimSpace(raw.Description),
		Details:        strings.TrimSpace(raw.Details),
		Lat:            raw.Lat,
		Lng:            raw.Lng,
		SourceID:       source.ID,
		SourceURL:      source.URL,
	}

	if ScoreSpot(*place) >= n.spotThreshold {
		place.Confidence = ConfidenceHigh
	} else {
		place.Confidence = ConfidenceLow
	}

	return place
}

// ScoreSpot counts populated fields on an 8-point completeness scale.
func ScoreSpot(p models.NormalizedPlace) int {
	score := 0
	for _, field := range []string{
		p.Name, p.Location, p.MapLink, p.CornerLink, p.Description, p.Details,
	} {
		if strings.TrimSpace(field) != "" {
			score++
		}
	}
	if p.Lat != nil {
		score++
	}
	if p.Lng != nil {
		score++
	}
	return score
}

// PlaceKey is the dedup key: the corner link when present, else the
// case-folded name|location pair.
func PlaceKey(p models.NormalizedPlace) string {
	if link := strings.ToLower(strings.TrimSpace(p.CornerLink)); link != "" {
		return link
	}
	return foldKey(p.Name) + "|" + foldKey(p.Location)
}

func foldKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DedupPlaces collapses places sharing a dedup key, keeping the max-score
// record (ties broken by first-seen), then sorts by (tag, name).
func DedupPlaces(places []models.NormalizedPlace) []models.NormalizedPlace {
	byKey := make(map[string]int, len(places))
	var out []models.NormalizedPlace

	for _, p := range places {
		key := PlaceKey(p)
		idx, ok := byKey[key]
		if !ok {
			byKey[key] = len(out)
			out = append(out, p)
			continue
		}
		if ScoreSpot(p) > ScoreSpot(out[idx]) {
			out[idx] = p
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Name < out[j].Name
	})

	return out
}

// defaultMapLink keeps an already-absolute map link, otherwise constructs a
// maps search URL from the location text.
func defaultMapLink(mapLink, location string) string {
	mapLink = strings.TrimSpace(mapLink)
	if strings.HasPrefix(mapLink, "http://") || strings.HasPrefix(mapLink, "https://") {
		return mapLink
	}
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(location)
}
