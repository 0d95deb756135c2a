// Package store implements the document store each service keeps its entities
// in. Documents are JSON blobs keyed by collection and id, with a per
// collection id index so listings and counts avoid scanning the keyspace.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a document id has no stored document
var ErrNotFound = errors.New("document not found")

// Options configures the Redis connection
type Options struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	// Prefix namespaces every key the store writes
	Prefix string
}

// NewClient connects to Redis and verifies the connection
func NewClient(opts Options) (*redis.Client, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	if opts.DB >= 0 {
		parsed.DB = opts.DB
	}
	if opts.MaxRetries > 0 {
		parsed.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}

	parsed.DialTimeout = 5 * time.Second
	parsed.ReadTimeout = 3 * time.Second
	parsed.WriteTimeout = 3 * time.Second
	parsed.PoolTimeout = 4 * time.Second

	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Store persists JSON documents in named collections
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a store over an existing Redis client
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "axion"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) docKey(collection, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.prefix, collection, id)
}

func (s *Store) indexKey(collection string) string {
	return fmt.Sprintf("%s:ids:%s", s.prefix, collection)
}

// Put writes a document and registers its id in the collection index
func (s *Store) Put(ctx context.Context, collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.docKey(collection, id), data, 0)
	pipe.SAdd(ctx, s.indexKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// Get reads a document into dest
func (s *Store) Get(ctx context.Context, collection, id string, dest any) error {
	data, err := s.client.Get(ctx, s.docKey(collection, id)).Result()
	if err == redis.Nil {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return nil
}

// Delete removes a document and its index entry. Returns ErrNotFound when
// the id had no document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.docKey(collection, id))
	pipe.SRem(ctx, s.indexKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// IDs returns every id in the collection index
func (s *Store) IDs(ctx context.Context, collection string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection ids: %w", err)
	}
	return ids, nil
}

// List returns every document in the collection as raw JSON. Index entries
// whose document disappeared are skipped.
func (s *Store) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	ids, err := s.IDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []json.RawMessage{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	docs := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		docs = append(docs, json.RawMessage(str))
	}
	return docs, nil
}

// Missing reports which of the given ids have no stored document
func (s *Store) Missing(ctx context.Context, collection string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, s.docKey(collection, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check documents: %w", err)
	}

	var missing []string
	for i, check := range checks {
		if check.Val() == 0 {
			missing = append(missing, ids[i])
		}
	}
	return missing, nil
}

// Count returns the number of documents in the collection
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	return s.client.SCard(ctx, s.indexKey(collection)).Result()
}

// Ping checks store connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
