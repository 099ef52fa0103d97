// Package eventstore records the mutation history of the book registry as an
// append-only journal of versioned events per aggregate.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is a single journal entry for an aggregate.
type Event struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AggregateID   string          `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Store is implemented by every journal backend.
type Store interface {
	// AppendEvents appends events atomically. expectedVersion must equal the
	// aggregate's current version, otherwise ErrConcurrencyConflict is returned.
	AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error
	// LoadEvents returns the events with fromVersion <= version <= toVersion
	// in version order. A toVersion of 0 means no upper bound.
	LoadEvents(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID string) (int, error)
}

// NewEvent builds an event of the given type with payload encoded as JSON.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return codec.Unmarshal(e.EventData, v)
}

func checkVersion(expectedVersion int) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	return nil
}
