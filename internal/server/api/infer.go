package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/imageio"
)

// Inferer runs the detector on a source.
type Inferer interface {
	Infer(ctx context.Context, src app.Source) (*app.InferenceReport, error)
}

// InferHandler handles POST /api/infer. The request body is the raw image,
// which is spooled to a temporary file before inference.
type InferHandler struct {
	inferer Inferer
}

// NewInferHandler creates a new InferHandler.
func NewInferHandler(i Inferer) *InferHandler {
	return &InferHandler{inferer: i}
}

var uploadExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

func (h *InferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ext, ok := uploadExt[r.Header.Get("Content-Type")]
	if !ok {
		ext = ".jpg"
	}
	f, err := os.CreateTemp("", "bsort-upload-*"+ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	defer os.Remove(f.Name())

	n, err := io.Copy(f, http.MaxBytesReader(w, r.Body, maxUploadBytes))
	f.Close()
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
		return
	}
	if n == 0 {
		writeError(w, http.StatusBadRequest, "Request body must be an image")
		return
	}

	report, err := h.inferer.Infer(r.Context(), app.ImageSource(f.Name()))
	switch {
	case errors.Is(err, app.ErrNoArtifact), errors.Is(err, app.ErrNoBackend):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, imageio.ErrUnknownFormat):
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported image format")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Inference failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
