// Package geocode resolves missing coordinates for address strings through a
// layered cache: local store, remote shared cache, then the external
// geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/models"
	"github.com/cornermap/sync-service/internal/storage"
)

// Coords is a resolved coordinate pair.
type Coords struct {
	Lat float64
	Lng float64
}

// Resolver resolves addresses to coordinates, caching every hit. A nil
// result is never cached: transient failures get retried on the next sync
// instead of permanently blacklisting an address.
type Resolver struct {
	cfg        config.Geocode
	cache      *storage.LayeredCache
	httpClient *http.Client
}

// NewResolver builds a resolver over the given layered geocode cache.
func NewResolver(cfg config.Geocode, cache *storage.LayeredCache) *Resolver {
	return &Resolver{
		cfg:        cfg,
		cache:      cache,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Resolve returns coordinates for an address, or nil when the address cannot
// be resolved. An unconfigured API key is not an error; it just means cache
// misses stay unresolved.
func (r *Resolver) Resolve(ctx context.Context, address string) (*Coords, error) {
	key := NormalizeAddressKey(address)
	if key == "" {
		return nil, nil
	}

	payload, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		var entry models.GeocodeCacheEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("corrupt geocode cache entry for %q: %w", key, err)
		}
		return &Coords{Lat: entry.Lat, Lng: entry.Lng}, nil
	}

	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, nil
	}

	coords, err := r.geocode(ctx, address)
	if err != nil {
		log.Printf("geocode: lookup for %q failed: %v", address, err)
		return nil, nil
	}
	if coords == nil {
		return nil, nil
	}

	entry := models.GeocodeCacheEntry{AddressKey: key, Lat: coords.Lat, Lng: coords.Lng}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling geocode entry: %w", err)
	}
	if err := r.cache.Put(ctx, key, encoded); err != nil {
		return nil, err
	}

	return coords, nil
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// geocode calls the external geocoding API. Anything other than status "OK"
// with at least one result is a miss, not an error.
func (r *Resolver) geocode(ctx context.Context, address string) (*Coords, error) {
	endpoint := fmt.Sprintf("%s/maps/api/geocode/json?address=%s&key=%s",
		strings.TrimRight(r.cfg.APIURL, "/"), url.QueryEscape(address), url.QueryEscape(r.cfg.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		return nil, nil
	}

	loc := parsed.Results[0].Geometry.Location
	return &Coords{Lat: loc.Lat, Lng: loc.Lng}, nil
}
