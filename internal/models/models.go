package models

import "time"

// SourceType distinguishes event-listing sources from place-listing sources.
type SourceType string

const (
	SourceTypeEvent SourceType = "event"
	SourceTypeSpot  SourceType = "spot"
)

// SourceStatus is the lifecycle state of a configured source.
type SourceStatus string

const (
	SourceStatusActive SourceStatus = "active"
	SourceStatusPaused SourceStatus = "paused"
)

// Source is one configured listing page. Identity is (SourceType, URL).
// Read-only sources come from configuration fallbacks and are excluded
// from status-update writes.
type Source struct {
	ID           string       `json:"id"`
	SourceType   SourceType   `json:"source_type"`
	URL          string       `json:"url"`
	Label        string       `json:"label,omitempty"`
	Status       SourceStatus `json:"status"`
	ReadOnly     bool         `json:"read_only"`
	LastSyncedAt time.Time    `json:"last_synced_at,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
}

// SourceSnapshot is the active set of sources at the start of a sync run.
type SourceSnapshot struct {
	EventSources []Source `json:"event_sources"`
	SpotSources  []Source `json:"spot_sources"`
}

// RawEventDetails is the untrusted, partially-populated payload returned by
// the extraction service for a single event page. Every field is optional;
// the normalizer is the only consumer.
type RawEventDetails struct {
	Name              string   `json:"name,omitempty"`
	Description       string   `json:"description,omitempty"`
	URL               string   `json:"url,omitempty"`
	StartDateTimeText string   `json:"startDateTimeText,omitempty"`
	StartDateISO      string   `json:"startDateISO,omitempty"`
	LocationText      string   `json:"locationText,omitempty"`
	Address           string   `json:"address,omitempty"`
	GoogleMapsURL     string   `json:"googleMapsUrl,omitempty"`
	Lat               *float64 `json:"lat,omitempty"`
	Lng               *float64 `json:"lng,omitempty"`
}

// RawPlace is the untrusted payload for one place row from a spot source.
type RawPlace struct {
	Name           string   `json:"name,omitempty"`
	Tag            string   `json:"tag,omitempty"`
	Location       string   `json:"location,omitempty"`
	MapLink        string   `json:"mapLink,omitempty"`
	CornerLink     string   `json:"cornerLink,omitempty"`
	CuratorComment string   `json:"curatorComment,omitempty"`
	Description    string   `json:"shortDescription,omitempty"`
	Details        string   `json:"details,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
}

// NormalizedEvent is the canonical event record. EventURL is non-empty and
// unique within a snapshot (dedup key). StartDateISO is an explicit or
// inferred ISO date, or empty when unparseable; never fabricated.
type NormalizedEvent struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	EventURL          string   `json:"event_url"`
	StartDateTimeText string   `json:"start_date_time_text,omitempty"`
	StartDateISO      string   `json:"start_date_iso,omitempty"`
	LocationText      string   `json:"location_text,omitempty"`
	Address           string   `json:"address,omitempty"`
	GoogleMapsURL     string   `json:"google_maps_url,omitempty"`
	Lat               *float64 `json:"lat,omitempty"`
	Lng               *float64 `json:"lng,omitempty"`
	SourceID          string   `json:"source_id"`
	SourceURL         string   `json:"source_url"`
	Confidence        float64  `json:"confidence"`
}

// NormalizedPlace is the canonical place record. Dedup key is CornerLink when
// present, else case-folded "name|location".
type NormalizedPlace struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Tag            string   `json:"tag"`
	Location       string   `json:"location"`
	MapLink        string   `json:"map_link,omitempty"`
	CornerLink     string   `json:"corner_link,omitempty"`
	CuratorComment string   `json:"curator_comment,omitempty"`
	Description    string   `json:"description,omitempty"`
	Details        string   `json:"details,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	SourceID       string   `json:"source_id"`
	SourceURL      string   `json:"source_url"`
	Confidence     float64  `json:"confidence"`
}

// IngestionStage identifies the pipeline stage an ingestion error occurred in.
type IngestionStage string

const (
	StageDiscover  IngestionStage = "discover"
	StageDetails   IngestionStage = "details"
	StageNormalize IngestionStage = "normalize"
	StageExtract   IngestionStage = "extract"
)

// IngestionError is a non-fatal record of one failed item or source during a
// sync run. It never blocks unrelated items.
type IngestionError struct {
	SourceType SourceType     `json:"source_type"`
	SourceID   string         `json:"source_id"`
	SourceURL  string         `json:"source_url"`
	EventURL   string         `json:"event_url,omitempty"`
	Stage      IngestionStage `json:"stage"`
	Message    string         `json:"message"`
}

// GeocodeCacheEntry maps a normalized address key to coordinates. Entries are
// append-only: once written, a key is authoritative and never re-geocoded.
type GeocodeCacheEntry struct {
	AddressKey string  `json:"address_key"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// SyncSnapshot is the immutable result of one orchestrator run, the sole
// unit of persistence and the sole unit returned to callers.
type SyncSnapshot struct {
	SyncedAt        time.Time         `json:"synced_at"`
	SourceURLs      []string          `json:"source_urls"`
	EventCount      int               `json:"event_count"`
	SpotCount       int               `json:"spot_count"`
	IngestionErrors []IngestionError  `json:"ingestion_errors"`
	Events          []NormalizedEvent `json:"events"`
	Places          []NormalizedPlace `json:"places"`
}

// SourceSyncResult is the narrower shape returned by per-source re-sync.
type SourceSyncResult struct {
	SyncedAt time.Time        `json:"synced_at"`
	Count    int              `json:"count"`
	Errors   []IngestionError `json:"errors"`
}
