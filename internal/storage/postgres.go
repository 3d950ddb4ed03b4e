package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cornermap/sync-service/internal/config"
)

// PostgresBackend implements RemoteBackend on PostgreSQL with a single
// entries table keyed by (tbl, key).
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects to PostgreSQL and ensures the schema.
func NewPostgresBackend(cfg config.Storage) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	backend := &PostgresBackend{db: db}
	if err := backend.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func (p *PostgresBackend) ensureSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS remote_entries (
			tbl        TEXT NOT NULL,
			key        TEXT NOT NULL,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tbl, key)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create remote_entries table: %w", err)
	}
	return nil
}

// GetEntry reads one payload, returning nil on a miss.
func (p *PostgresBackend) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM remote_entries WHERE tbl = $1 AND key = $2`, table, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	return payload, nil
}

// PutEntry upserts one payload.
func (p *PostgresBackend) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO remote_entries (tbl, key, payload, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (tbl, key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		table, key, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", table, key, err)
	}
	return nil
}

// ListEntries returns every payload in a logical table keyed by key.
func (p *PostgresBackend) ListEntries(ctx context.Context, table string) (map[string][]byte, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, payload FROM remote_entries WHERE tbl = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", table, err)
		}
		entries[key] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return entries, nil
}

// Close closes the PostgreSQL connection.
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
