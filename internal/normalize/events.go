package normalize

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cornermap/sync-service/internal/models"
)

// dateSortSentinel sorts unparseable dates after every real date.
const dateSortSentinel = "9999-12-31"

// Event converts one raw detail payload into a canonical event, or nil when
// the payload is missing its URL or name, or the URL is off-pattern. No
// partial event is ever emitted.
func (n *Normalizer) Event(raw models.RawEventDetails, source models.Source) *models.NormalizedEvent {
	url := strings.TrimSpace(raw.URL)
	name := strings.TrimSpace(raw.Name)
	if url == "" || name == "" {
		return nil
	}
	if n.isItemURL != nil && !n.isItemURL(url) {
		return nil
	}

	startISO := strings.TrimSpace(raw.StartDateISO)
	if startISO == "" {
		// Inferred from free text when possible; empty when unparseable,
		// never fabricated.
		startISO = InferISODate(raw.StartDateTimeText)
	}

	event := &models.NormalizedEvent{
		ID:                uuid.New().String(),
		Name:              name,
		Description:       strings.TrimSpace(raw.Description),
		EventURL:          url,
		StartDateTimeText: strings.TrimSpace(raw.StartDateTimeText),
		StartDateISO:      startISO,
		LocationText:      strings.TrimSpace(raw.LocationText),
		Address:           strings.TrimSpace(raw.Address),
		GoogleMapsURL:     strings.TrimSpace(raw.GoogleMapsURL),
		Lat:               raw.Lat,
		Lng:               raw.Lng,
		SourceID:          source.ID,
		SourceURL:         source.URL,
	}

	if ScoreEvent(*event) >= n.eventThreshold {
		event.Confidence = ConfidenceHigh
	} else {
		event.Confidence = ConfidenceLow
	}

	return event
}

// ScoreEvent counts populated fields on a 9-point completeness scale.
func ScoreEvent(e models.NormalizedEvent) int {
	score := 0
	for _, field := range []string{
		e.Name, e.Description, e.StartDateTimeText, e.StartDateISO,
		e.LocationText, e.Address, e.GoogleMapsURL,
	} {
		if strings.TrimSpace(field) != "" {
			score++
		}
	}
	if e.Lat != nil {
		score++
	}
	if e.Lng != nil {
		score++
	}
	return score
}

// DedupEvents collapses events sharing an EventURL, keeping the max-score
// record per URL (ties broken by first-seen), then sorts ascending by
// StartDateISO with unparseable dates last.
func DedupEvents(events []models.NormalizedEvent) []models.NormalizedEvent {
	byURL := make(map[string]int, len(events))
	var out []models.NormalizedEvent

	for _, e := range events {
		idx, ok := byURL[e.EventURL]
		if !ok {
			byURL[e.EventURL] = len(out)
			out = append(out, e)
			continue
		}
		if ScoreEvent(e) > ScoreEvent(out[idx]) {
			out[idx] = e
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return sortDate(out[i].StartDateISO) < sortDate(out[j].StartDateISO)
	})

	return out
}

func sortDate(iso string) string {
	if iso == "" {
		return dateSortSentinel
	}
	return iso
}
