package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListHistory returns recent invocations, newest first.
//
// Query parameters:
//   - limit: max results (default 50)
//   - topic: filter by topic
//   - outcome: filter by outcome (success, grammar_violation, ...)
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results := s.history.List(0)
	out := results[:0]
	for _, res := range results {
		if t := q.Get("topic"); t != "" && res.Topic != t {
			continue
		}
		if o := q.Get("outcome"); o != "" && string(res.Outcome) != o {
			continue
		}
		out = append(out, res)
		if len(out) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": out,
		"count":   len(out),
		"total":   s.history.Total(),
	})
}

// handleGetHistory returns one invocation by ID.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := s.history.Get(id)
	if !ok {
		writeNotFound(w, "invocation not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
