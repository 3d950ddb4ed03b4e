// Package storage provides the dual-destination persistence layer: a fast
// local SQLite store that is always written, and an optional remote store
// that is mirrored best-effort.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cornermap/sync-service/internal/models"
)

// LocalStore is the fast local store: the current snapshot plus keyed cache
// buckets (geocode, route) in a single SQLite file.
type LocalStore struct {
	db   *sql.DB
	path string
}

// Cache bucket names used by the pipeline.
const (
	BucketGeocode = "geocode"
	BucketRoute   = "route"
)

const snapshotKey = "latest"

// NewLocalStore opens (creating if needed) the SQLite file at path.
func NewLocalStore(path string) (*LocalStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL for concurrent reads; busy timeout covers snapshot replacement.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	store := &LocalStore{db: db, path: path}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *LocalStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			key        TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cache_entries (
			bucket     TEXT NOT NULL,
			key        TEXT NOT NULL,
			payload    TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (bucket, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// ReadSnapshot returns the stored snapshot, or nil when none has been
// written yet.
func (s *LocalStore) ReadSnapshot(ctx context.Context) (*models.SyncSnapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE key = ?`, snapshotKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap models.SyncSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &snap, nil
}

// WriteSnapshot atomically replaces the stored snapshot.
func (s *LocalStore) WriteSnapshot(ctx context.Context, snap *models.SyncSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		snapshotKey, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// GetCache returns the payload stored under (bucket, key), or nil on a miss.
func (s *LocalStore) GetCache(ctx context.Context, bucket, key string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_entries WHERE bucket = ? AND key = ?`, bucket, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s/%s: %w", bucket, key, err)
	}
	return []byte(payload), nil
}

// SetCache upserts the payload under (bucket, key).
func (s *LocalStore) SetCache(ctx context.Context, bucket, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (bucket, key, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		bucket, key, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing cache %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (s *LocalStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
