package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/cornermap/sync-service/internal/config"
)

// DynamoBackend implements RemoteBackend using AWS DynamoDB: one table,
// items keyed by "table#key" with the JSON payload in a string attribute.
type DynamoBackend struct {
	client    *dynamodb.DynamoDB
	tableName string
}

// NewDynamoBackend creates a new DynamoDB backend instance.
func NewDynamoBackend(cfg config.Storage) (*DynamoBackend, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	backend := &DynamoBackend{
		client:    dynamodb.New(sess),
		tableName: cfg.TableName,
	}

	// Create table if it doesn't exist (for local testing)
	if err := backend.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}

	return backend, nil
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoBackend) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("pk"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("pk"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

func partitionKey(table, key string) string {
	return table + "#" + key
}

// GetEntry reads one item's payload, returning nil on a miss.
func (d *DynamoBackend) GetEntry(ctx context.Context, table, key string) ([]byte, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(partitionKey(table, key))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	payload := result.Item["payload"]
	if payload == nil || payload.S == nil {
		return nil, nil
	}
	return []byte(*payload.S), nil
}

// PutEntry upserts one item.
func (d *DynamoBackend) PutEntry(ctx context.Context, table, key string, payload []byte) error {
	_, err := d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]*dynamodb.AttributeValue{
			"pk":         {S: aws.String(partitionKey(table, key))},
			"payload":    {S: aws.String(string(payload))},
			"updated_at": {S: aws.String(time.Now().UTC().Format(time.RFC3339))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", table, key, err)
	}
	return nil
}

// ListEntries scans for every item in a logical table.
func (d *DynamoBackend) ListEntries(ctx context.Context, table string) (map[string][]byte, error) {
	prefix := table + "#"
	entries := make(map[string][]byte)

	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("begins_with(pk, :prefix)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":prefix": {S: aws.String(prefix)},
		},
	}

	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			pk, payload := item["pk"], item["payload"]
			if pk == nil || pk.S == nil || payload == nil || payload.S == nil {
				continue
			}
			entries[strings.TrimPrefix(*pk.S, prefix)] = []byte(*payload.S)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	return entries, nil
}

// Close closes the DynamoDB connection
func (d *DynamoBackend) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
