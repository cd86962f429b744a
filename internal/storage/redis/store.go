// Package redis persists the property collection under a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/storage"
)

const (
	defaultKey         = "listing-crawler:properties"
	defaultMaxAttempts = 5
)

// Config captures connection and key settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Key         string
	MaxAttempts int
}

// Store keeps the JSON-encoded collection in one key and uses WATCH so
// concurrent updates retry instead of overwriting each other.
type Store struct {
	client      goredis.UniversalClient
	key         string
	maxAttempts int
}

// New connects to Redis using cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg)
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client goredis.UniversalClient, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	key := cfg.Key
	if key == "" {
		key = defaultKey
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Store{client: client, key: key, maxAttempts: attempts}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Load reads the collection. A missing key is an empty collection.
func (s *Store) Load(ctx context.Context) ([]crawler.Property, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return []crawler.Property{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return storage.Unmarshal(data) //nolint:wrapcheck
}

// Update runs fn inside WATCH/MULTI and retries when another writer wins.
func (s *Store) Update(ctx context.Context, fn crawler.UpdateFunc) ([]crawler.Property, error) {
	var result []crawler.Property
	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, s.key).Bytes()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("get %s: %w", s.key, err)
		}
		current, err := storage.Unmarshal(data)
		if err != nil {
			return err //nolint:wrapcheck
		}
		next, err := storage.Apply(current, fn)
		if err != nil {
			return err //nolint:wrapcheck
		}
		encoded, err := storage.Marshal(next)
		if err != nil {
			return err //nolint:wrapcheck
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.key, encoded, 0)
			return nil
		})
		if err != nil {
			return err //nolint:wrapcheck
		}
		result = next
		return nil
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return crawler.CloneAll(result), nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return nil, fmt.Errorf("update %s: %w", s.key, err)
		}
	}
	return nil, fmt.Errorf("update %s after %d attempts: %w", s.key, s.maxAttempts, storage.ErrConflict)
}
