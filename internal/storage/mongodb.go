package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cornermap/sync-service/internal/config"
)

// MongoBackend implements RemoteBackend on MongoDB, one collection per
// logical table, documents keyed by _id with the JSON payload in a single
// field.
type MongoBackend struct {
	client   *mongo.Client
	database string
}

type mongoEntry struct {
	ID        string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoBackend connects to MongoDB and verifies the connection.
func NewMongoBackend(cfg config.Storage) (*MongoBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoBackend{client: client, database: cfg.MongoDatabase}, nil
}

func (m *MongoBackend) collection(table string) *mongo.Collection {
	return m.client.Database(m.database).Collection(table)
}

// GetEntry reads one document's payload, returning nil on a miss.
func (m *MongoBackend) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	var entry mongoEntry
	err := m.collection(table).FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	return entry.Payload, nil
}

// PutEntry upserts one document.
func (m *MongoBackend) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	entry := mongoEntry{ID: key, Payload: payload, UpdatedAt: time.Now().UTC()}
	_, err := m.collection(table).ReplaceOne(ctx,
		bson.M{"_id": key}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", table, key, err)
	}
	return nil
}

// ListEntries returns every payload in a logical table keyed by id.
func (m *MongoBackend) ListEntries(ctx context.Context, table string) (map[string][]byte, error) {
	cursor, err := m.collection(table).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer cursor.Close(ctx)

	entries := make(map[string][]byte)
	for cursor.Next(ctx) {
		var entry mongoEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode %s entry: %w", table, err)
		}
		entries[entry.ID] = entry.Payload
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return entries, nil
}

// Close disconnects the client.
func (m *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
