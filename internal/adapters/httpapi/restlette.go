package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/asofdb/asof/internal/core/domain"
	"github.com/asofdb/asof/internal/core/usecase"
)

// Restlette is the flat CRUD surface over one collection. Single-record
// operations hit the store directly; bulk operations fan out over HTTP
// against this same surface.
type Restlette struct {
	store  *usecase.RecordStore
	schema json.RawMessage
	bulk   *BulkClient
}

func NewRestlette(store *usecase.RecordStore, schema json.RawMessage, bulk *BulkClient) *Restlette {
	return &Restlette{store: store, schema: schema, bulk: bulk}
}

func (h *Restlette) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/bulk", h.bulkCreate)
	r.Get("/bulk", h.bulkRead)
	r.Delete("/bulk", h.bulkDelete)
	r.Get("/schema", h.getSchema)
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	return r
}

type recordResponse struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
}

func toRecordResponse(v domain.Version) recordResponse {
	return recordResponse{
		ID:        v.ID,
		Payload:   v.Payload,
		CreatedAt: v.CreatedAt.UnixMilli(),
	}
}

func (h *Restlette) create(w http.ResponseWriter, r *http.Request) {
	r, caller := withCaller(r, usecase.CallerFromHeader)

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	var payload json.RawMessage
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, err := h.store.Create(r.Context(), payload, caller)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Restlette) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, caller := withCaller(r, usecase.CallerFromHeader)

	at, ok := parseAt(w, r)
	if !ok {
		return
	}

	version, err := h.store.ReadLatestAsOf(r.Context(), id, at)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	// A record the caller may not read stays distinguishable from a missing
	// one on the flat surface.
	if !version.VisibleTo(caller) {
		handleDomainError(w, domain.ErrDenied)
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(version))
}

func (h *Restlette) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, caller := withCaller(r, usecase.CallerFromHeader)

	current, err := h.store.ReadLatestAsOf(r.Context(), id, time.Time{})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if !current.VisibleTo(caller) {
		handleDomainError(w, domain.ErrDenied)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	var payload json.RawMessage
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	version, err := h.store.Update(r.Context(), id, payload, caller)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(version))
}

func (h *Restlette) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, caller := withCaller(r, usecase.CallerFromHeader)

	current, err := h.store.ReadLatestAsOf(r.Context(), id, time.Time{})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if !current.VisibleTo(caller) {
		handleDomainError(w, domain.ErrDenied)
		return
	}

	if err := h.store.Remove(r.Context(), id); err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Restlette) list(w http.ResponseWriter, r *http.Request) {
	r, caller := withCaller(r, usecase.CallerFromHeader)

	at, ok := parseAt(w, r)
	if !ok {
		return
	}

	versions, err := h.store.List(r.Context(), caller, at)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	items := make([]recordResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, toRecordResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Restlette) getSchema(w http.ResponseWriter, _ *http.Request) {
	schema := h.schema
	if len(schema) == 0 {
		schema = json.RawMessage(`{}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(schema, '\n'))
}

func (h *Restlette) bulkCreate(w http.ResponseWriter, r *http.Request) {
	if h.bulk == nil {
		writeError(w, http.StatusNotFound, "bulk surface not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	var payloads []json.RawMessage
	if err := decoder.Decode(&payloads); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	writeJSON(w, http.StatusOK, h.bulk.CreateMany(r.Context(), payloads, r.Header.Get("Authorization")))
}

func (h *Restlette) bulkRead(w http.ResponseWriter, r *http.Request) {
	if h.bulk == nil {
		writeError(w, http.StatusNotFound, "bulk surface not configured")
		return
	}

	ids, ok := parseIDs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.bulk.ReadMany(r.Context(), ids, r.Header.Get("Authorization")))
}

func (h *Restlette) bulkDelete(w http.ResponseWriter, r *http.Request) {
	if h.bulk == nil {
		writeError(w, http.StatusNotFound, "bulk surface not configured")
		return
	}

	ids, ok := parseIDs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.bulk.DeleteMany(r.Context(), ids, r.Header.Get("Authorization")))
}

func parseIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "ids query parameter required")
		return nil, false
	}
	return strings.Split(raw, ","), true
}
