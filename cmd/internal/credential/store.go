// Package credential holds the bearer credential of the signed-in student.
//
// The pipeline only ever reads the credential through Source; writes happen at login.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source returns the current bearer credential, or ok=false when none is stored.
type Source interface {
	Credential(ctx context.Context) (cred string, ok bool)
}

// Store is a Source that can also be written (login / logout).
type Store interface {
	Source
	SetCredential(ctx context.Context, cred string) error
	ClearCredential(ctx context.Context) error
}

// ErrEmptyCredential is returned when attempting to store a blank credential.
var ErrEmptyCredential = errors.New("empty credential")

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	cred string
}

// NewMemoryStore returns a MemoryStore seeded with initial (may be empty).
func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{cred: strings.TrimSpace(initial)}
}

// Credential implements Source.
func (s *MemoryStore) Credential(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.cred != ""
}

// SetCredential implements Store.
func (s *MemoryStore) SetCredential(_ context.Context, cred string) error {
	cred = strings.TrimSpace(cred)
	if cred == "" {
		return ErrEmptyCredential
	}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

// ClearCredential implements Store.
func (s *MemoryStore) ClearCredential(_ context.Context) error {
	s.mu.Lock()
	s.cred = ""
	s.mu.Unlock()
	return nil
}

// RedisStore keeps the credential under a single Redis key, so a kiosk fleet can share
// one signed-in session provisioned out of band.
type RedisStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log *slog.Logger
}

// NewRedisStore parses redisURL and returns a RedisStore.
// ttl <= 0 stores the credential without expiry.
func NewRedisStore(redisURL, key string, ttl time.Duration, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(redis.NewClient(opts), key, ttl, log), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, key string, ttl time.Duration, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "presence:credential"
	}
	return &RedisStore{rdb: rdb, key: key, ttl: ttl, log: log}
}

// Credential implements Source. Redis failures read as "absent".
func (s *RedisStore) Credential(ctx context.Context) (string, bool) {
	v, err := s.rdb.Get(ctx, s.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("credential.redis.get.fail", "key", s.key, "err", err)
		}
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// SetCredential implements Store.
func (s *RedisStore) SetCredential(ctx context.Context, cred string) error {
	cred = strings.TrimSpace(cred)
	if cred == "" {
		return ErrEmptyCredential
	}
	return s.rdb.Set(ctx, s.key, cred, s.ttl).Err()
}

// ClearCredential implements Store.
func (s *RedisStore) ClearCredential(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
