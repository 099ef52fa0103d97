package bookshelf

import (
	"net/http"

	"bookshelf/internal/ctxlog"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the envelope of every reply: status is "success" or "fail".
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) AddBook(w http.ResponseWriter, r *http.Request) {
	var in BookInput
	if err := codec.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFail(w, http.StatusBadRequest, "Failed to add book. Invalid request payload")
		return
	}

	id, err := h.service.AddBook(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{
		Status:  "success",
		Message: "Book added successfully",
		Data:    map[string]string{"bookId": id},
	})
}

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context(), filterFromQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Status: "success",
		Data:   map[string]any{"books": books},
	})
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Status: "success",
		Data:   map[string]any{"book": book},
	})
}

func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookId")

	var in BookInput
	if err := codec.NewDecoder(r.Body).Decode(&in); err != nil {
		// An unknown id still wins over a bad body.
		if _, getErr := h.service.GetBook(r.Context(), id); getErr != nil {
			writeFail(w, http.StatusNotFound, "Failed to update book. Id not found")
			return
		}
		writeFail(w, http.StatusBadRequest, "Failed to update book. Invalid request payload")
		return
	}

	if err := h.service.UpdateBook(r.Context(), id, in); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Status: "success", Message: "Book updated successfully"})
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "bookId")); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Status: "success", Message: "Book deleted successfully"})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Status: "success",
		Data:   map[string]any{"events": events},
	})
}

// filterFromQuery honors presence, not value: ?reading= with any value
// selects the reading filter, which matches true only for "1".
func filterFromQuery(r *http.Request) Filter {
	query := r.URL.Query()
	var filter Filter
	switch {
	case query.Has("reading"):
		reading := query.Get("reading") == "1"
		filter.Reading = &reading
	case query.Has("finished"):
		finished := query.Get("finished") == "1"
		filter.Finished = &finished
	case query.Has("name"):
		name := query.Get("name")
		filter.Name = &name
	}
	return filter
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		ctxlog.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeFail(w, status, message)
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Status: "fail", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = codec.NewEncoder(w).Encode(v)
}
