// Package httpapi mounts the two request surfaces over a collection: the
// restlette (flat CRUD plus bulk fan-out) and the graphlette (the federated
// query endpoint).
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/asofdb/asof/internal/core/domain"
	"github.com/asofdb/asof/internal/graph"
)

const maxJSONBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var violation *domain.ErrSchemaViolation
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "payload does not match schema",
			"causes": violation.Errors,
		})
	case errors.Is(err, domain.ErrInvalidID), errors.Is(err, domain.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDenied):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

// withCaller resolves the request's Authorization header into a caller and
// stores it on the context for stores and resolvers downstream.
func withCaller(r *http.Request, resolve func(string) domain.Caller) (*http.Request, domain.Caller) {
	caller := resolve(r.Header.Get("Authorization"))
	return r.WithContext(graph.WithCaller(r.Context(), caller)), caller
}

// parseAt reads the optional reference instant from the at query parameter,
// epoch millis. Zero means now, resolved by the store.
func parseAt(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return time.Time{}, true
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be epoch millis")
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}
