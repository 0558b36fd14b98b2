package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cocred/internal/logger"
)

// DefaultKey is the Redis list holding pending review events.
const DefaultKey = "cocred:reviews"

// blockFor bounds each blocking pop so cancellation is noticed.
const blockFor = 5 * time.Second

// RedisQueue is a list-backed queue. Consumers move each message onto a
// processing list and remove it on Ack, so messages in flight when a worker
// dies are recovered on the next Consume.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
	log        zerolog.Logger
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		log:        logger.Component("queue").With().Str("key", key).Logger(),
	}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, Encode(stamp(msg))).Err()
}

// Recover returns messages left on the processing list to the head of the queue.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrap(err, "recover in-flight messages")
		}
		n++
	}
}

// Consume recovers in-flight messages, then streams new ones until ctx ends.
// Undecodable entries are dropped from the processing list.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	n, err := q.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		q.log.Info().Int("count", n).Msg("requeued in-flight messages")
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", blockFor).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.log.Warn().Err(err).Msg("blocking pop failed")
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			msg, err := Decode(raw)
			if err != nil {
				q.log.Warn().Err(err).Msg("dropping malformed message")
				q.client.LRem(ctx, q.processing, 1, raw)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ack removes a handled message from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, msg Message) error {
	if msg.raw == "" {
		return nil
	}
	return q.client.LRem(ctx, q.processing, 1, msg.raw).Err()
}

// Len is the number of messages waiting to be consumed.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
