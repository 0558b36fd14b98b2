// Package queue carries review events from the API to the worker.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// TypeReview marks a message carrying a review.Event.
const TypeReview = "review"

// Message is one unit of work. raw is the wire form used to acknowledge it.
type Message struct {
	Type       string
	Body       []byte
	EnqueuedAt time.Time
	raw        string
}

// Queue delivers messages at least once. Consumers Ack a message once it has
// been handled; unacknowledged messages may be delivered again.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
	Ack(ctx context.Context, msg Message) error
}

type envelope struct {
	Type       string `json:"type"`
	Body       string `json:"body"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Encode renders msg as a JSON envelope.
func Encode(msg Message) string {
	b, _ := json.Marshal(envelope{Type: msg.Type, Body: string(msg.Body), EnqueuedAt: msg.EnqueuedAt.UnixMilli()})
	return string(b)
}

// Decode parses an envelope produced by Encode.
func Decode(s string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Message{}, errors.Wrap(err, "decode queue message")
	}
	if env.Type == "" {
		return Message{}, errors.New("queue message without type")
	}
	return Message{Type: env.Type, Body: []byte(env.Body), EnqueuedAt: time.UnixMilli(env.EnqueuedAt), raw: s}, nil
}

func stamp(msg Message) Message {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	return msg
}
