package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	events map[string]Event
}

func (m *memRepo) Insert(_ context.Context, e Event) (Event, error) {
	e.ID = "e-" + e.Key
	m.events[e.ID] = e
	return e, nil
}

func (m *memRepo) List(context.Context) ([]Event, error) {
	var out []Event
	for _, e := range m.events {
		out = append(out, e)
	}
	return out, nil
}

func (m *memRepo) ByKey(_ context.Context, key string) (*Event, error) {
	for _, e := range m.events {
		if e.Key == key {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memRepo) Delete(_ context.Context, id string) (bool, error) {
	_, ok := m.events[id]
	delete(m.events, id)
	return ok, nil
}

func TestEventLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&memRepo{events: map[string]Event{}})

	e, err := svc.Create(ctx, Event{Name: " Tech Fest ", StartDate: "2024-02-01", EndDate: "2024-02-03"})
	require.NoError(t, err)
	assert.Equal(t, "Tech Fest", e.Name)
	assert.Len(t, e.Key, 10)

	got, err := svc.ByKey(ctx, e.Key)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	_, err = svc.Create(ctx, Event{Name: "Other", Key: e.Key})
	assert.ErrorIs(t, err, ErrKeyInUse)

	custom, err := svc.Create(ctx, Event{Name: "Hack Night", Key: "hack24"})
	require.NoError(t, err)
	assert.Equal(t, "HACK24", custom.Key)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, svc.Delete(ctx, e.ID))
	assert.ErrorIs(t, svc.Delete(ctx, e.ID), ErrNotFound)
	_, err = svc.ByKey(ctx, e.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(&memRepo{events: map[string]Event{}})
	_, err := svc.Create(context.Background(), Event{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.Create(context.Background(), Event{Name: "X", StartDate: "01/02/2024"})
	assert.ErrorIs(t, err, ErrDateFormat)
}
