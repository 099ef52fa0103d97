package bookshelf

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"bookshelf/internal/eventstore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "bookshelf/registry"

// registry implements Service over an ordered in-memory slice. Every mutation
// is journaled before it is applied, so a journal failure leaves the
// collection untouched.
type registry struct {
	mu       sync.RWMutex
	books    []Book
	versions map[string]int

	journal eventstore.Store
	ids     IDGenerator
	clock   Clock
	tracer  trace.Tracer
	ops     metric.Int64Counter
}

// Option configures the registry created by NewService.
type Option func(*registry)

func WithIDGenerator(ids IDGenerator) Option {
	return func(r *registry) { r.ids = ids }
}

func WithClock(clock Clock) Option {
	return func(r *registry) { r.clock = clock }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *registry) { r.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets where the bookshelf.operations counter is recorded.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *registry) { r.ops = newOpsCounter(mp.Meter(instrumentationName)) }
}

// NewService creates an empty registry that journals its mutations to
// journal.
func NewService(journal eventstore.Store, opts ...Option) Service {
	r := &registry{
		books:    make([]Book, 0),
		versions: make(map[string]int),
		journal:  journal,
		ids:      UUIDGenerator{},
		clock:    SystemClock{},
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ops == nil {
		r.ops = newOpsCounter(otel.Meter(instrumentationName))
	}
	return r
}

func newOpsCounter(meter metric.Meter) metric.Int64Counter {
	counter, err := meter.Int64Counter("bookshelf.operations",
		metric.WithDescription("Registry operations by outcome"),
	)
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return counter
}

// AddBook validates in and appends a new book to the end of the collection.
func (r *registry) AddBook(ctx context.Context, in BookInput) (id string, err error) {
	ctx, span := r.start(ctx, "add_book")
	defer func() { r.finish(ctx, span, "add_book", err) }()

	if err := validate(in, "add"); err != nil {
		return "", err
	}

	now := formatTimestamp(r.clock.Now())
	book := Book{
		ID:         r.ids.NewID(),
		InsertedAt: now,
		UpdatedAt:  now,
	}
	book.apply(in)
	span.SetAttributes(attribute.String("book.id", book.ID))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(book.ID) >= 0 {
		return "", unexpectedError("Failed to add book", fmt.Errorf("duplicate id %s", book.ID))
	}
	if err := r.record(ctx, book.ID, EventBookAdded, book); err != nil {
		return "", unexpectedError("Failed to add book", err)
	}

	r.books = append(r.books, book)
	return book.ID, nil
}

// ListBooks returns summaries of the books matching filter in collection
// order. An applied filter that matches nothing is a not found error.
func (r *registry) ListBooks(ctx context.Context, filter Filter) (summaries []BookSummary, err error) {
	ctx, span := r.start(ctx, "list_books")
	defer func() { r.finish(ctx, span, "list_books", err) }()

	var (
		match    func(Book) bool
		notFound string
	)
	switch {
	case filter.Reading != nil:
		want := *filter.Reading
		match = func(b Book) bool { return b.Reading == want }
		notFound = "No books matching the reading status"
	case filter.Finished != nil:
		want := *filter.Finished
		match = func(b Book) bool { return b.Finished == want }
		notFound = "No books matching the finished status"
	case filter.Name != nil:
		query := strings.ToLower(*filter.Name)
		match = func(b Book) bool { return strings.Contains(strings.ToLower(b.Name), query) }
		notFound = fmt.Sprintf("Cannot find books with title %s", *filter.Name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries = make([]BookSummary, 0, len(r.books))
	for _, book := range r.books {
		if match == nil || match(book) {
			summaries = append(summaries, book.summary())
		}
	}

	if match != nil && len(summaries) == 0 {
		return nil, notFoundError(notFound)
	}
	return summaries, nil
}

// GetBook returns a copy of the book with the given id.
func (r *registry) GetBook(ctx context.Context, id string) (book *Book, err error) {
	ctx, span := r.start(ctx, "get_book", attribute.String("book.id", id))
	defer func() { r.finish(ctx, span, "get_book", err) }()

	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil, notFoundError("Book not found")
	}
	found := r.books[i]
	return &found, nil
}

// UpdateBook replaces the mutable fields of an existing book. The id is
// resolved before the input is validated.
func (r *registry) UpdateBook(ctx context.Context, id string, in BookInput) (err error) {
	ctx, span := r.start(ctx, "update_book", attribute.String("book.id", id))
	defer func() { r.finish(ctx, span, "update_book", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return notFoundError("Failed to update book. Id not found")
	}
	if err := validate(in, "update"); err != nil {
		return err
	}

	updated := r.books[i]
	updated.apply(in)
	updated.UpdatedAt = formatTimestamp(r.clock.Now())

	if err := r.record(ctx, id, EventBookUpdated, updated); err != nil {
		return unexpectedError("Failed to update book", err)
	}

	r.books[i] = updated
	return nil
}

// DeleteBook removes a book, keeping the order of the remaining ones.
func (r *registry) DeleteBook(ctx context.Context, id string) (err error) {
	ctx, span := r.start(ctx, "delete_book", attribute.String("book.id", id))
	defer func() { r.finish(ctx, span, "delete_book", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return notFoundError("Failed to delete book. Id not found")
	}
	if err := r.record(ctx, id, EventBookRemoved, BookRemovedEvent{ID: id}); err != nil {
		return unexpectedError("Failed to delete book", err)
	}

	r.books = slices.Delete(r.books, i, i+1)
	return nil
}

// History returns the journaled events of a book, including books that have
// since been deleted.
func (r *registry) History(ctx context.Context, id string) (events []eventstore.Event, err error) {
	ctx, span := r.start(ctx, "book_history", attribute.String("book.id", id))
	defer func() { r.finish(ctx, span, "book_history", err) }()

	events, err = r.journal.LoadEvents(ctx, id, 0, 0)
	if err != nil {
		return nil, unexpectedError("Failed to load book history", err)
	}
	if len(events) == 0 {
		return nil, notFoundError("Book not found")
	}
	return events, nil
}

func validate(in BookInput, action string) error {
	if in.Name == "" {
		return validationError(fmt.Sprintf("Failed to %s book. Please fill in the book name", action))
	}
	if in.ReadPage > in.PageCount {
		return validationError(fmt.Sprintf("Failed to %s book. readPage cannot be greater than pageCount", action))
	}
	return nil
}

// indexOf must be called with r.mu held.
func (r *registry) indexOf(id string) int {
	return slices.IndexFunc(r.books, func(b Book) bool { return b.ID == id })
}

// record journals a single event for id at the next version. It must be
// called with r.mu held for writing.
func (r *registry) record(ctx context.Context, id, eventType string, payload any) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	version := r.versions[id]
	if err := r.journal.AppendEvents(ctx, id, aggregateType, version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("journal %s: %w", eventType, err)
	}
	r.versions[id] = version + 1
	return nil
}

func (r *registry) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "bookshelf."+op, trace.WithAttributes(attrs...))
}

func (r *registry) finish(ctx context.Context, span trace.Span, op string, err error) {
	result := outcome(err)
	if errors.Is(err, ErrUnexpected) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", result))
	span.End()

	r.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", result),
	))
}
