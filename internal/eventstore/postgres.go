package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const schema = `
	CREATE TABLE IF NOT EXISTS book_events (
		id UUID PRIMARY KEY,
		aggregate_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data JSONB NOT NULL,
		version INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (aggregate_id, version)
	)
`

// PostgresStore writes the journal to a PostgreSQL table. Calls go through a
// circuit breaker so that an unavailable database fails fast.
type PostgresStore struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// OpenPostgres connects to dsn, retrying the initial ping with exponential
// backoff for up to maxWait, and makes sure the journal table exists.
func OpenPostgres(ctx context.Context, dsn string, maxWait time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "book-journal",
			MaxRequests: 1,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrConcurrencyConflict)
			},
		}),
		tracer: otel.Tracer("bookshelf/eventstore"),
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
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

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.appendEvents(ctx, span, aggregateID, aggregateType, expectedVersion, events)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

func (s *PostgresStore) appendEvents(ctx context.Context, span trace.Span, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.GetContext(ctx, &current, `
		SELECT COALESCE(MAX(version), 0)
		FROM book_events
		WHERE aggregate_id = $1
	`, aggregateID)
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}

	if current != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", current),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	createdAt := time.Now().UTC()
	for i, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = createdAt

		// event_data goes in as text; lib/pq would send []byte as bytea.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO book_events (id, aggregate_id, aggregate_type, event_type, event_data, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, event.ID, event.AggregateID, event.AggregateType, event.EventType, string(event.EventData), event.Version, event.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadEvents(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM book_events
		WHERE aggregate_id = $1
		AND version >= $2
	`
	args := []interface{}{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	result, err := s.breaker.Execute(func() (interface{}, error) {
		var events []Event
		if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		return events, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	events := result.([]Event)
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

func (s *PostgresStore) GetCurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID)),
	)
	defer span.End()

	var version int
	err := s.db.GetContext(ctx, &version, `
		SELECT COALESCE(MAX(version), 0)
		FROM book_events
		WHERE aggregate_id = $1
	`, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}
