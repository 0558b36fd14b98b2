package queue

import "context"

// InMemory is a channel-backed queue for single-process use and tests.
// Ack is a no-op: delivered messages are never redelivered.
type InMemory struct {
	ch chan Message
}

func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish blocks while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- stamp(msg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume forwards buffered messages until ctx ends, then closes the channel.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) Ack(context.Context, Message) error { return nil }

// Len is the number of buffered messages.
func (q *InMemory) Len() int { return len(q.ch) }
