package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// SignalLogout is the explicit sign-out broadcast.
	SignalLogout = "cocred_logout"
	// SignalStorage reports a key change made by another client.
	SignalStorage = "storage"
)

// Signal is one cross-client notification. Signals sharing an ID belong to the same broadcast.
type Signal struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Origin  string `json:"origin"`
	Key     string `json:"key,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Bus fans signals out to every subscriber of a channel.
type Bus interface {
	Publish(ctx context.Context, channel string, sig Signal) error
	// Subscribe calls handler for every signal until the returned stop func runs or ctx ends.
	Subscribe(ctx context.Context, channel string, handler func(Signal)) (func(), error)
}

// MemoryBus delivers synchronously to in-process subscribers.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(Signal)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[int]func(Signal){}}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, sig Signal) error {
	b.mu.Lock()
	handlers := make([]func(Signal), 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(sig)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler func(Signal)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[channel] == nil {
		b.subs[channel] = map[int]func(Signal){}
	}
	b.subs[channel][id] = handler
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], id)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

// RedisBus carries signals over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(Signal)) (func(), error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "subscribe")
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var sig Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					b.log.Warn().Err(err).Str("channel", channel).Msg("malformed session signal")
					continue
				}
				handler(sig)
			}
		}
	}()
	return cancel, nil
}
