package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/graphql-go/graphql"

	"github.com/asofdb/asof/internal/core/usecase"
)

// Graphlette is the query endpoint over one collection's schema. It accepts
// the standard POST {query, variables} envelope and a GET form for ad hoc
// queries from a browser.
type Graphlette struct {
	schema graphql.Schema
}

func NewGraphlette(schema graphql.Schema) *Graphlette {
	return &Graphlette{schema: schema}
}

func (h *Graphlette) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.query)
	r.Get("/", h.query)
	return r
}

func (h *Graphlette) query(w http.ResponseWriter, r *http.Request) {
	var query string
	var variables map[string]interface{}

	switch r.Method {
	case http.MethodGet:
		query = r.URL.Query().Get("query")
		if raw := r.URL.Query().Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &variables); err != nil {
				writeError(w, http.StatusBadRequest, "variables must be a json object")
				return
			}
		}
	default:
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		decoder := json.NewDecoder(r.Body)
		if err := decoder.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := ensureEOF(decoder); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		query = body.Query
		variables = body.Variables
	}

	if query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}

	r, _ = withCaller(r, usecase.CallerFromHeader)
	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  query,
		VariableValues: variables,
		Context:        r.Context(),
	})
	writeJSON(w, http.StatusOK, result)
}

// IndexHandler serves the service index: the mounted query and CRUD paths.
func IndexHandler(graphlettes, restlettes []string) http.HandlerFunc {
	if graphlettes == nil {
		graphlettes = []string{}
	}
	if restlettes == nil {
		restlettes = []string{}
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"graphlettes": graphlettes,
			"restlettes":  restlettes,
		})
	}
}
