package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/regcanon/internal/enum"
	"github.com/regcanon/internal/query"
	"github.com/regcanon/internal/regularize"
	"github.com/regcanon/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PairView is one pair plus its derived completeness badge.
type PairView struct {
	regularize.UncuratedPair
	Status string `json:"status"`
}

// handlePairs lists distinct pairs with derived status. The include_exact
// query flag is a view filter only; it has no effect on regularization.
func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	includeExact := r.URL.Query().Get("include_exact") != "false"

	pairs, err := s.engine.FindUncuratedPairs(r.Context(), includeExact)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]PairView, 0, len(pairs))
	for _, p := range pairs {
		status, err := s.engine.StatusFor(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, PairView{UncuratedPair: p, Status: status.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.AutoRegularize(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleResolve pre-populates the mapping dialog: the canonical resolution
// when one exists, fuzzy suggestions otherwise.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	p, err := pairFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	makeName, modelName, ok, err := s.engine.ResolveCanonicalForPair(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		Resolved    bool                    `json:"resolved"`
		Make        string                  `json:"make,omitempty"`
		Model       string                  `json:"model,omitempty"`
		Suggestions []regularize.Suggestion `json:"suggestions,omitempty"`
	}{Resolved: ok, Make: makeName, Model: modelName}

	if !ok {
		resp.Suggestions, err = s.engine.Suggestions(r.Context(), p, 5)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		regularize.UncuratedPair
		regularize.Promotion
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.PromoteToComplete(r.Context(), req.UncuratedPair, req.Promotion); err != nil {
		writeError(w, err)
		return
	}

	// The mapping set changed; the filter cache derives from it.
	if err := s.cache.Invalidate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	pairKey := mux.Vars(r)["pairKey"]
	if err := s.engine.DeleteMapping(r.Context(), pairKey); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cache.Invalidate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleFilterValues(w http.ResponseWriter, r *http.Request) {
	dimension := mux.Vars(r)["dimension"]

	var parents []uint32
	if raw := r.URL.Query().Get("parents"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
			if err != nil {
				http.Error(w, "invalid parent id", http.StatusBadRequest)
				return
			}
			parents = append(parents, uint32(id))
		}
	}

	values, err := s.cache.GetAvailable(dimension, parents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Invalidate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.cache.Token().String()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter query.FilterConfiguration `json:"filter"`
		Metric string                    `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	metric, err := query.ParseMetric(req.Metric)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.queries.BuildAndRun(r.Context(), req.Filter, metric)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pairFromQuery(r *http.Request) (regularize.UncuratedPair, error) {
	q := r.URL.Query()
	makeID, err := strconv.ParseUint(q.Get("make_id"), 10, 32)
	if err != nil {
		return regularize.UncuratedPair{}, &regularize.ValidationError{Field: "make_id", Reason: "missing or not an integer"}
	}
	modelID, err := strconv.ParseUint(q.Get("model_id"), 10, 32)
	if err != nil {
		return regularize.UncuratedPair{}, &regularize.ValidationError{Field: "model_id", Reason: "missing or not an integer"}
	}
	return regularize.UncuratedPair{
		MakeID:    uint32(makeID),
		ModelID:   uint32(modelID),
		MakeText:  q.Get("make"),
		ModelText: q.Get("model"),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *regularize.ValidationError
		filterErr     *query.InvalidFilterError
		persistErr    *store.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &filterErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, enum.ErrUnknownValue):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &persistErr):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
