// Package redis_store implements session.Store on Redis. Each session is one
// string key "<prefix><namespace>:<key>".
package redis_store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdelaire/teleflow/core/session"
)

// DefaultPrefix is prepended to every key unless WithPrefix is given.
const DefaultPrefix = "teleflow:"

var _ session.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL expires sessions that are not written for ttl. Zero keeps them
// forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store keeps sessions in Redis. The caller owns the client lifecycle.
type Store struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Redis-backed store.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(namespace, key string) string {
	return s.prefix + namespace + ":" + key
}

// Get returns the stored value, or false if there is none.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", s.key(namespace, key), err)
	}
	return data, true, nil
}

// Set stores value, resetting its TTL.
func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	k := s.key(namespace, key)
	if err := s.client.Set(ctx, k, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	s.logger.Debug("session stored", "key", k, "bytes", len(value))
	return nil
}

// Remove deletes the value. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, namespace, key string) error {
	k := s.key(namespace, key)
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", k, err)
	}
	return nil
}
