package bookshelf

// Book is a single record in the registry.
type Book struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Year       int    `json:"year"`
	Author     string `json:"author"`
	Summary    string `json:"summary"`
	Publisher  string `json:"publisher"`
	PageCount  int    `json:"pageCount"`
	ReadPage   int    `json:"readPage"`
	Finished   bool   `json:"finished"`
	Reading    bool   `json:"reading"`
	InsertedAt string `json:"insertedAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// BookSummary is the reduced view of a book returned by listings.
type BookSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Publisher string `json:"publisher"`
}

// BookInput holds the client-supplied fields for create and update.
type BookInput struct {
	Name      string `json:"name"`
	Year      int    `json:"year"`
	Author    string `json:"author"`
	Summary   string `json:"summary"`
	Publisher string `json:"publisher"`
	PageCount int    `json:"pageCount"`
	ReadPage  int    `json:"readPage"`
	Reading   bool   `json:"reading"`
}

// Filter selects books in ListBooks. Only the first non-nil field, in the
// order Reading, Finished, Name, is applied.
type Filter struct {
	Reading  *bool
	Finished *bool
	Name     *string
}

func (b Book) summary() BookSummary {
	return BookSummary{ID: b.ID, Name: b.Name, Publisher: b.Publisher}
}

// apply overwrites the mutable fields of b with in and recomputes Finished.
func (b *Book) apply(in BookInput) {
	b.Name = in.Name
	b.Year = in.Year
	b.Author = in.Author
	b.Summary = in.Summary
	b.Publisher = in.Publisher
	b.PageCount = in.PageCount
	b.ReadPage = in.ReadPage
	b.Reading = in.Reading
	b.Finished = in.ReadPage == in.PageCount
}

// Journal event types.
const (
	EventBookAdded   = "BookAdded"
	EventBookUpdated = "BookUpdated"
	EventBookRemoved = "BookRemoved"

	aggregateType = "book"
)

// BookRemovedEvent is journaled when a book is deleted.
type BookRemovedEvent struct {
	ID string `json:"id"`
}
