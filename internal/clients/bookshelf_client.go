package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"bookshelf/internal/bookshelf"
	"bookshelf/internal/eventstore"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// APIError is returned when the service answers with a fail envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bookshelf: %d %s", e.StatusCode, e.Message)
}

type BookshelfClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBookshelfClient talks to the service at baseURL. A nil httpClient means
// http.DefaultClient.
func NewBookshelfClient(baseURL string, httpClient *http.Client) *BookshelfClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BookshelfClient{baseURL: baseURL, httpClient: httpClient}
}

func (c *BookshelfClient) AddBook(ctx context.Context, in bookshelf.BookInput) (string, error) {
	var data struct {
		BookID string `json:"bookId"`
	}
	if err := c.do(ctx, http.MethodPost, "/books", in, &data); err != nil {
		return "", err
	}
	return data.BookID, nil
}

func (c *BookshelfClient) ListBooks(ctx context.Context, filter bookshelf.Filter) ([]bookshelf.BookSummary, error) {
	query := url.Values{}
	if filter.Reading != nil {
		query.Set("reading", flag(*filter.Reading))
	}
	if filter.Finished != nil {
		query.Set("finished", flag(*filter.Finished))
	}
	if filter.Name != nil {
		query.Set("name", *filter.Name)
	}

	path := "/books"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var data struct {
		Books []bookshelf.BookSummary `json:"books"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Books, nil
}

func (c *BookshelfClient) GetBook(ctx context.Context, id string) (*bookshelf.Book, error) {
	var data struct {
		Book bookshelf.Book `json:"book"`
	}
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, &data); err != nil {
		return nil, err
	}
	return &data.Book, nil
}

func (c *BookshelfClient) UpdateBook(ctx context.Context, id string, in bookshelf.BookInput) error {
	return c.do(ctx, http.MethodPut, "/books/"+url.PathEscape(id), in, nil)
}

func (c *BookshelfClient) DeleteBook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/books/"+url.PathEscape(id), nil, nil)
}

func (c *BookshelfClient) History(ctx context.Context, id string) ([]eventstore.Event, error) {
	var data struct {
		Events []eventstore.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(id)+"/history", nil, &data); err != nil {
		return nil, err
	}
	return data.Events, nil
}

func (c *BookshelfClient) do(ctx context.Context, method, path string, body, data any) error {
	var reader io.Reader
	if body != nil {
		payload, err := codec.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Status  string              `json:"status"`
		Message string              `json:"message"`
		Data    jsoniter.RawMessage `json:"data"`
	}
	if err := codec.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if envelope.Status != "success" {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}
	if data != nil && len(envelope.Data) > 0 {
		if err := codec.Unmarshal(envelope.Data, data); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
