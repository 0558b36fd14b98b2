package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KV is a string key-value store scoped to one client namespace.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// NoopKV stores nothing. It backs clients without persistent storage.
type NoopKV struct{}

func (NoopKV) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (NoopKV) Set(context.Context, string, string) error         { return nil }
func (NoopKV) Delete(context.Context, string) error              { return nil }

// MemoryKV is a process-local KV.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
	err  error
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string]string{}}
}

// Fail makes every subsequent call return err. A nil err restores normal behavior.
func (m *MemoryKV) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

// RedisKV stores keys under a prefix with an expiry.
type RedisKV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisKV uses prefix "cocred:kv:" when none is given. A zero ttl keeps keys forever.
func NewRedisKV(client *redis.Client, prefix string, ttl time.Duration) *RedisKV {
	if prefix == "" {
		prefix = "cocred:kv:"
	}
	return &RedisKV{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// SafeStore wraps a KV so that failures are logged and never returned.
type SafeStore struct {
	kv  KV
	log zerolog.Logger
}

func NewSafeStore(kv KV, log zerolog.Logger) *SafeStore {
	if kv == nil {
		kv = NoopKV{}
	}
	return &SafeStore{kv: kv, log: log}
}

// Get returns "" when the key is missing or the store fails.
func (s *SafeStore) Get(ctx context.Context, key string) string {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("session store read failed")
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

func (s *SafeStore) Set(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("session store write failed")
	}
}

func (s *SafeStore) Delete(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("session store delete failed")
	}
}
