package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 123_000_000, time.UTC)
	msg := Message{Type: TypeReview, Body: []byte(`certificate|c1|approved`), EnqueuedAt: at}

	raw := Encode(msg)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.Body, got.Body)
	assert.True(t, at.Equal(got.EnqueuedAt))
	assert.Equal(t, raw, got.raw)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode("plain")
	assert.Error(t, err)

	_, err = Decode(`{"body":"x"}`)
	assert.Error(t, err)
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeReview, Body: []byte("1")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeReview, Body: []byte("2")}))

	assert.Equal(t, 2, q.Len())

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, want := range []string{"1", "2"} {
		select {
		case got := <-msgs:
			assert.Equal(t, want, string(got.Body))
			assert.False(t, got.EnqueuedAt.IsZero())
			assert.NoError(t, q.Ack(ctx, got))
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{}), context.Canceled)
}
