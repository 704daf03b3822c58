package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/bsort/internal/store"
)

// RunsHandler handles HTTP requests for recorded runs.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a new RunsHandler with the given store.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// ServeHTTP routes /api/runs and /api/runs/{id}.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/runs")
	id = strings.TrimPrefix(id, "/")

	if id == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type listRunsResponse struct {
	Runs []*store.Run `json:"runs"`
}

type runResponse struct {
	*store.Run
	Detections []store.Detection `json:"detections"`
	Counts     map[string]int    `json:"counts"`
}

// list handles GET /api/runs?kind=infer&limit=20.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	var opts store.ListOptions

	q := r.URL.Query()
	if kind := q.Get("kind"); kind != "" {
		switch k := store.RunKind(kind); k {
		case store.RunKindTrain, store.RunKindExport, store.RunKindInfer:
			opts.Kind = k
		default:
			writeError(w, http.StatusBadRequest, "kind must be one of train, export, infer")
			return
		}
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	runs, err := h.store.Runs().List(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}

	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

// get handles GET /api/runs/{id} and includes the run's detections.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	detections, err := h.store.Detections().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}
	counts, err := h.store.Detections().CountByColor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count detections")
		return
	}

	writeJSON(w, http.StatusOK, runResponse{Run: run, Detections: detections, Counts: counts})
}

// delete handles DELETE /api/runs/{id}.
func (h *RunsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Runs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
