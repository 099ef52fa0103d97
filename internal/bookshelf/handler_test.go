package bookshelf

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	journal *failingJournal
}

func newTestServer(t *testing.T, limiter *rate.Limiter) *testServer {
	t.Helper()
	svc, journal := newTestService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testServer{
		t:       t,
		handler: NewRouter(NewHandler(svc), limiter, logger),
		journal: journal,
	}
}

type envelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (s *testServer) do(method, path string, body any) (int, envelope) {
	s.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := codec.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(s.t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var env envelope
	require.NoError(s.t, codec.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) create(in BookInput) string {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/books", in)
	require.Equal(s.t, http.StatusCreated, code, env.Message)
	return env.Data["bookId"].(string)
}

func TestHandlerCreate(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(http.MethodPost, "/books", harryPotter())
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "book-1", env.Data["bookId"])

	in := harryPotter()
	in.Name = ""
	code, env = s.do(http.MethodPost, "/books", in)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "fail", env.Status)
	assert.Equal(t, "Failed to add book. Please fill in the book name", env.Message)

	in = harryPotter()
	in.ReadPage = 101
	code, env = s.do(http.MethodPost, "/books", in)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Failed to add book. readPage cannot be greater than pageCount", env.Message)

	code, env = s.do(http.MethodPost, "/books", `{"name": 42}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "fail", env.Status)

	s.journal.setBroken(true)
	code, env = s.do(http.MethodPost, "/books", harryPotter())
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "fail", env.Status)
	assert.Equal(t, "Failed to add book", env.Message)
}

func TestHandlerList(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(http.MethodGet, "/books", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
	assert.Len(t, env.Data["books"], 0, "empty list is [] not null")

	id := s.create(harryPotter())

	code, env = s.do(http.MethodGet, "/books", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{
		map[string]any{"id": id, "name": "Harry Potter", "publisher": "Bloomsbury"},
	}, env.Data["books"])

	code, _ = s.do(http.MethodGet, "/books?reading=1", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodGet, "/books?reading=0", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "fail", env.Status)

	code, _ = s.do(http.MethodGet, "/books?finished=1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(http.MethodGet, "/books?name=HAR", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, env.Data["books"], 1)

	code, env = s.do(http.MethodGet, "/books?name=dune", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Cannot find books with title dune", env.Message)
}

func TestHandlerGet(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(harryPotter())

	code, env := s.do(http.MethodGet, "/books/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	book := env.Data["book"].(map[string]any)
	assert.Equal(t, id, book["id"])
	assert.Equal(t, "Harry Potter", book["name"])
	assert.Equal(t, float64(100), book["pageCount"])
	assert.Equal(t, false, book["finished"])
	assert.Equal(t, book["insertedAt"], book["updatedAt"])

	code, env = s.do(http.MethodGet, "/books/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Book not found", env.Message)
}

func TestHandlerUpdate(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(harryPotter())

	in := harryPotter()
	in.ReadPage = in.PageCount
	code, env := s.do(http.MethodPut, "/books/"+id, in)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "Book updated successfully", env.Message)

	_, env = s.do(http.MethodGet, "/books/"+id, nil)
	book := env.Data["book"].(map[string]any)
	assert.Equal(t, true, book["finished"])
	assert.NotEqual(t, book["insertedAt"], book["updatedAt"])

	code, env = s.do(http.MethodPut, "/books/unknown", BookInput{})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Failed to update book. Id not found", env.Message)

	code, _ = s.do(http.MethodPut, "/books/unknown", `not json`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPut, "/books/"+id, `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodPut, "/books/"+id, BookInput{Name: "x", ReadPage: 2, PageCount: 1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Failed to update book. readPage cannot be greater than pageCount", env.Message)
}

func TestHandlerDelete(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create(harryPotter())

	code, env := s.do(http.MethodDelete, "/books/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Book deleted successfully", env.Message)

	code, env = s.do(http.MethodDelete, "/books/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Failed to delete book. Id not found", env.Message)

	code, env = s.do(http.MethodGet, "/books/"+id+"/history", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, env.Data["events"], 2)
}

func TestHandlerRateLimit(t *testing.T) {
	s := newTestServer(t, rate.NewLimiter(rate.Limit(0.001), 1))

	s.create(harryPotter())

	code, env := s.do(http.MethodPost, "/books", harryPotter())
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", env.Message)

	// reads are never limited
	code, _ = s.do(http.MethodGet, "/books", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHandlerUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(http.MethodGet, "/shelves", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "fail", env.Status)

	code, _ = s.do(http.MethodPatch, "/books", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
