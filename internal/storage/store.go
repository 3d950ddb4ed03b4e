package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cornermap/sync-service/internal/models"
)

//go:embed sample_snapshot.json
var sampleSnapshotJSON []byte

// Store is the dual-destination persistence facade. Every write goes to the
// local store first (always), then to the remote store best-effort; reads
// prefer remote, then local, then the embedded sample data.
type Store struct {
	Local  *LocalStore
	Remote *Remote // nil when no remote store is configured
}

// NewStore wires the local store and the optional remote mirror together.
func NewStore(local *LocalStore, remote *Remote) *Store {
	return &Store{Local: local, Remote: remote}
}

// LoadSnapshot returns the freshest available snapshot: remote if reachable,
// else local, else the embedded sample.
func (s *Store) LoadSnapshot(ctx context.Context) (*models.SyncSnapshot, error) {
	if s.Remote != nil {
		snap, err := s.Remote.LoadSnapshot(ctx)
		if err != nil {
			log.Printf("storage: remote snapshot read failed, falling back to local: %v", err)
		} else if snap != nil {
			return snap, nil
		}
	}

	snap, err := s.Local.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}

	return SampleSnapshot()
}

// SaveSnapshot persists the snapshot locally and mirrors it to the remote
// store. Only the local write can fail the call; remote failures are logged
// and swallowed.
func (s *Store) SaveSnapshot(ctx context.Context, snap *models.SyncSnapshot) error {
	if err := s.Local.WriteSnapshot(ctx, snap); err != nil {
		return err
	}

	if s.Remote != nil {
		if err := s.Remote.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("storage: remote snapshot mirror failed: %v", err)
		}
	}
	return nil
}

// GeocodeCache returns the layered geocode cache.
func (s *Store) GeocodeCache() *LayeredCache {
	return &LayeredCache{local: s.Local, remote: s.Remote, bucket: BucketGeocode, table: TableGeocodeCache}
}

// RouteCache returns the layered route cache consumed by the routing layer.
func (s *Store) RouteCache() *LayeredCache {
	return &LayeredCache{local: s.Local, remote: s.Remote, bucket: BucketRoute, table: TableRouteCache}
}

// PlannerState reads a keyed planner-state payload. Planner state lives only
// in the remote store; without one every read is a miss.
func (s *Store) PlannerState(ctx context.Context, key string) ([]byte, error) {
	if s.Remote == nil {
		return nil, nil
	}
	return s.Remote.GetEntry(ctx, TablePlannerState, key)
}

// SavePlannerState writes a keyed planner-state payload to the remote store.
func (s *Store) SavePlannerState(ctx context.Context, key string, payload []byte) error {
	if s.Remote == nil {
		return ErrNoRemote
	}
	return s.Remote.PutEntry(ctx, TablePlannerState, key, payload)
}

// SampleSnapshot returns the embedded seed snapshot used before the first
// successful sync.
func SampleSnapshot() (*models.SyncSnapshot, error) {
	var snap models.SyncSnapshot
	if err := json.Unmarshal(sampleSnapshotJSON, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling sample snapshot: %w", err)
	}
	return &snap, nil
}
