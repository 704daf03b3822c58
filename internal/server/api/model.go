package api

import (
	"net/http"

	"github.com/ayusman/bsort/internal/artifact"
)

// Resolver reports which model inference would load.
type Resolver interface {
	Resolve() (artifact.Candidate, bool)
	Candidates() []string
}

// ModelHandler handles GET /api/model.
type ModelHandler struct {
	resolver Resolver
}

// NewModelHandler creates a new ModelHandler.
func NewModelHandler(r Resolver) *ModelHandler {
	return &ModelHandler{resolver: r}
}

type modelResponse struct {
	Found      bool     `json:"found"`
	Path       string   `json:"path,omitempty"`
	Tier       string   `json:"tier,omitempty"`
	Candidates []string `json:"candidates"`
}

func (h *ModelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := modelResponse{Candidates: h.resolver.Candidates()}
	if cand, ok := h.resolver.Resolve(); ok {
		resp.Found = true
		resp.Path = cand.Path
		resp.Tier = string(cand.Tier)
	}
	writeJSON(w, http.StatusOK, resp)
}
