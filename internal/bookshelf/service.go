package bookshelf

import (
	"context"

	"bookshelf/internal/eventstore"
)

// Service defines the operations of the book registry. Errors returned are
// *Error values classified by ErrValidation, ErrNotFound or ErrUnexpected.
type Service interface {
	AddBook(ctx context.Context, in BookInput) (string, error)
	ListBooks(ctx context.Context, filter Filter) ([]BookSummary, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	UpdateBook(ctx context.Context, id string, in BookInput) error
	DeleteBook(ctx context.Context, id string) error
	History(ctx context.Context, id string) ([]eventstore.Event, error)
}
