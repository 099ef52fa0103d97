package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Message string `json:"message"`
}

func mustEvent(t *testing.T, message string) Event {
	t.Helper()
	event, err := NewEvent("TestEvent", testPayload{Message: message})
	require.NoError(t, err)
	return event
}

func TestMemoryStoreAppendAssignsVersions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.AppendEvents(ctx, "book-1", "book", 0, []Event{mustEvent(t, "a"), mustEvent(t, "b")})
	require.NoError(t, err)
	err = store.AppendEvents(ctx, "book-1", "book", 2, []Event{mustEvent(t, "c")})
	require.NoError(t, err)

	events, err := store.LoadEvents(ctx, "book-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, i+1, event.Version)
		assert.Equal(t, "book-1", event.AggregateID)
		assert.Equal(t, "book", event.AggregateType)
		assert.NotZero(t, event.ID)
		assert.False(t, event.CreatedAt.IsZero())
	}

	var payload testPayload
	require.NoError(t, events[2].Decode(&payload))
	assert.Equal(t, "c", payload.Message)

	version, err := store.GetCurrentVersion(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.AppendEvents(ctx, "book-1", "book", 0, []Event{mustEvent(t, "a")}))

	err := store.AppendEvents(ctx, "book-1", "book", 0, []Event{mustEvent(t, "b")})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	err = store.AppendEvents(ctx, "book-1", "book", -1, []Event{mustEvent(t, "b")})
	assert.ErrorIs(t, err, ErrInvalidVersion)

	events, err := store.LoadEvents(ctx, "book-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryStoreLoadRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvents(ctx, "book-1", "book", i, []Event{mustEvent(t, "x")}))
	}

	events, err := store.LoadEvents(ctx, "book-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, 4, events[2].Version)

	events, err = store.LoadEvents(ctx, "unknown", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
