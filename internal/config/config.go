package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application
type Config struct {
	Extract Extract
	Geocode Geocode
	Storage Storage
	Sources Sources
	Sync    Sync
	Server  Server
}

// Extract holds extraction-service configuration
type Extract struct {
	APIURL          string        `env:"EXTRACT_API_URL" envDefault:"https://api.firecrawl.dev"`
	APIKey          string        `env:"EXTRACT_API_KEY"`
	Timeout         time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"30s"`
	RetryCount      int           `env:"EXTRACT_RETRY_COUNT" envDefault:"3"`
	RetryDelay      time.Duration `env:"EXTRACT_RETRY_DELAY" envDefault:"2s"`
	PollInterval    time.Duration `env:"EXTRACT_POLL_INTERVAL" envDefault:"1500ms"`
	PollMaxAttempts int           `env:"EXTRACT_POLL_MAX_ATTEMPTS" envDefault:"40"`
	// Item-URL allowlist for discovered event pages, and listing/overview
	// sub-paths of the same domain that are never individual items.
	EventURLPattern string   `env:"EVENT_URL_PATTERN" envDefault:"/events?/[^/?#]+/?$"`
	EventURLExclude []string `env:"EVENT_URL_EXCLUDE" envSeparator:"," envDefault:"overview,calendar,map,list,archive"`
	MaxCandidates   int      `env:"MAX_EVENT_CANDIDATES" envDefault:"24"`
	ChunkSize       int      `env:"DETAIL_CHUNK_SIZE" envDefault:"4"`
}

// Geocode holds geocoding-service configuration
type Geocode struct {
	APIURL  string        `env:"GEOCODE_API_URL" envDefault:"https://maps.googleapis.com"`
	APIKey  string        `env:"GEOCODE_API_KEY"`
	Timeout time.Duration `env:"GEOCODE_TIMEOUT" envDefault:"10s"`
}

// Storage holds local and remote storage configuration
type Storage struct {
	LocalPath string `env:"LOCAL_DB_PATH" envDefault:"data/cornermap.db"`
	// RemoteType selects the optional remote backend: "mongodb", "dynamodb",
	// "postgresql", or empty for local-only operation.
	RemoteType    string `env:"REMOTE_STORE_TYPE"`
	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"cornermap"`
	Region        string `env:"AWS_REGION" envDefault:"us-west-2"`
	TableName     string `env:"TABLE_NAME" envDefault:"cornermap_sync"`
	Endpoint      string `env:"DYNAMODB_ENDPOINT"`
	PostgresURI   string `env:"POSTGRES_URI"`
}

// Sources holds fallback source lists used when the registry is empty
type Sources struct {
	EventSourceURLs []string `env:"EVENT_SOURCE_URLS" envSeparator:","`
	SpotSourceURLs  []string `env:"SPOT_SOURCE_URLS" envSeparator:","`
	DefaultEventURL string   `env:"DEFAULT_EVENT_SOURCE_URL"`
	DefaultSpotURL  string   `env:"DEFAULT_SPOT_SOURCE_URL"`
}

// Sync holds orchestrator tuning
type Sync struct {
	// Cron schedule for periodic full syncs; empty disables the scheduler.
	Schedule string `env:"SYNC_SCHEDULE" envDefault:"0 */6 * * *"`
	// Completeness-score thresholds above which a record's confidence flag
	// is 1.0 instead of 0.7. Heuristic values, kept configurable.
	EventScoreThreshold int    `env:"EVENT_SCORE_THRESHOLD" envDefault:"6"`
	SpotScoreThreshold  int    `env:"SPOT_SCORE_THRESHOLD" envDefault:"4"`
	TagRulesPath        string `env:"TAG_RULES_PATH"`
}

// Server holds HTTP server configuration
type Server struct {
	Port int `env:"SERVER_PORT" envDefault:"8080"`
}

// Load parses configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(&cfg.Extract); err != nil {
		return nil, fmt.Errorf("parse extract config: %w", err)
	}
	if err := env.Parse(&cfg.Geocode); err != nil {
		return nil, fmt.Errorf("parse geocode config: %w", err)
	}
	if err := env.Parse(&cfg.Storage); err != nil {
		return nil, fmt.Errorf("parse storage config: %w", err)
	}
	if err := env.Parse(&cfg.Sources); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}
	if err := env.Parse(&cfg.Sync); err != nil {
		return nil, fmt.Errorf("parse sync config: %w", err)
	}
	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}
	return cfg, nil
}
