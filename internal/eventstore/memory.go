package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MemoryStore keeps the journal in process memory. It is the default backend
// and is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]Event
	tracer  trace.Tracer
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string][]Event),
		tracer:  otel.Tracer("bookshelf/eventstore"),
		now:     time.Now,
	}
}

func (s *MemoryStore) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	_, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if err := checkVersion(expectedVersion); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	if currentVersion(stream) != expectedVersion {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return ErrConcurrencyConflict
	}

	createdAt := s.now().UTC()
	for i, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = createdAt
		stream = append(stream, event)
	}
	s.streams[aggregateID] = stream

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

func (s *MemoryStore) LoadEvents(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	_, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []Event
	for _, event := range s.streams[aggregateID] {
		if event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			break
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

func (s *MemoryStore) GetCurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentVersion(s.streams[aggregateID]), nil
}

func currentVersion(stream []Event) int {
	if len(stream) == 0 {
		return 0
	}
	return stream[len(stream)-1].Version
}
