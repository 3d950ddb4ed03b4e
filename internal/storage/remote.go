package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cornermap/sync-service/internal/config"
	"github.com/cornermap/sync-service/internal/models"
)

// Logical remote tables. Every backend stores JSON payloads addressed by
// (table, key); the domain shapes live only in this file.
const (
	TableSnapshot     = "sync_snapshot"
	TableSources      = "sources"
	TableGeocodeCache = "geocode_cache"
	TableRouteCache   = "route_cache"
	TablePlannerState = "planner_state"
)

// RemoteBackend is the minimal keyed read/write contract a remote store
// product has to satisfy. GetEntry returns nil on a miss, not an error.
type RemoteBackend interface {
	GetEntry(ctx context.Context, table, key string) ([]byte, error)
	PutEntry(ctx context.Context, table, key string, payload []byte) error
	ListEntries(ctx context.Context, table string) (map[string][]byte, error)
	Close() error
}

// ErrNoRemote is returned by operations that require a remote store when
// none is configured.
var ErrNoRemote = errors.New("no remote store configured")

// Remote exposes the domain operations on top of any backend. It is always
// optional: callers treat every operation as best-effort.
type Remote struct {
	backend RemoteBackend
}

// NewRemoteWithBackend wraps an already-constructed backend. Used for custom
// backends and test doubles; production wiring goes through NewRemote.
func NewRemoteWithBackend(backend RemoteBackend) *Remote {
	return &Remote{backend: backend}
}

// NewRemote creates a remote store instance based on configuration. An empty
// RemoteType means no remote store is in play and nil is returned.
func NewRemote(cfg config.Storage) (*Remote, error) {
	var (
		backend RemoteBackend
		err     error
	)

	switch cfg.RemoteType {
	case "":
		return nil, nil
	case "mongodb":
		backend, err = NewMongoBackend(cfg)
	case "dynamodb":
		backend, err = NewDynamoBackend(cfg)
	case "postgresql":
		backend, err = NewPostgresBackend(cfg)
	default:
		return nil, fmt.Errorf("unsupported remote store type: %s", cfg.RemoteType)
	}
	if err != nil {
		return nil, err
	}

	return &Remote{backend: backend}, nil
}

// LoadSnapshot reads the mirrored snapshot, or nil when absent.
func (r *Remote) LoadSnapshot(ctx context.Context) (*models.SyncSnapshot, error) {
	payload, err := r.backend.GetEntry(ctx, TableSnapshot, snapshotKey)
	if err != nil || payload == nil {
		return nil, err
	}

	var snap models.SyncSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling remote snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot mirrors the snapshot to the remote store.
func (r *Remote) SaveSnapshot(ctx context.Context, snap *models.SyncSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return r.backend.PutEntry(ctx, TableSnapshot, snapshotKey, payload)
}

// ListSources reads the source registry, ordered by source id for
// deterministic iteration downstream.
func (r *Remote) ListSources(ctx context.Context) ([]models.Source, error) {
	entries, err := r.backend.ListEntries(ctx, TableSources)
	if err != nil {
		return nil, err
	}

	sources := make([]models.Source, 0, len(entries))
	for key, payload := range entries {
		var src models.Source
		if err := json.Unmarshal(payload, &src); err != nil {
			return nil, fmt.Errorf("unmarshaling source %s: %w", key, err)
		}
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

// UpdateSourceStatus writes a source's lastSyncedAt/lastError after a sync
// attempt. Unknown ids are ignored: fallback sources never live in the
// registry.
func (r *Remote) UpdateSourceStatus(ctx context.Context, sourceID string, syncedAt time.Time, lastError string) error {
	payload, err := r.backend.GetEntry(ctx, TableSources, sourceID)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}

	var src models.Source
	if err := json.Unmarshal(payload, &src); err != nil {
		return fmt.Errorf("unmarshaling source %s: %w", sourceID, err)
	}
	src.LastSyncedAt = syncedAt
	src.LastError = lastError

	updated, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshaling source %s: %w", sourceID, err)
	}
	return r.backend.PutEntry(ctx, TableSources, sourceID, updated)
}

// GetEntry reads one keyed payload from a logical table.
func (r *Remote) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	return r.backend.GetEntry(ctx, table, key)
}

// PutEntry writes one keyed payload to a logical table.
func (r *Remote) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	return r.backend.PutEntry(ctx, table, key, payload)
}

// Close closes the underlying backend.
func (r *Remote) Close() error {
	return r.backend.Close()
}
