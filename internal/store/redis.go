package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisOptions select the server and logical database backing the queue and
// the session store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis holds the shared client. Client is exposed for the queue and session
// packages, which speak Redis directly.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client. Connections are opened lazily, so an unreachable
// server surfaces on the first command or in Healthy.
func NewRedis(opts RedisOptions) *Redis {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 20
	}
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})}
}

// Ping reports the first connectivity error.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis: not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return errors.Wrap(r.Client.Ping(ctx).Err(), "redis ping")
}

func (r *Redis) Healthy(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
