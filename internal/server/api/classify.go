package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/color"
	"github.com/ayusman/bsort/internal/imageio"
)

// Classifier labels an encoded cap image.
type Classifier interface {
	ClassifyBytes(data []byte) (*app.ClassifyResult, error)
}

// ClassifyHandler handles POST /api/classify. The request body is the raw
// image.
type ClassifyHandler struct {
	classifier Classifier
}

// NewClassifyHandler creates a new ClassifyHandler.
func NewClassifyHandler(c Classifier) *ClassifyHandler {
	return &ClassifyHandler{classifier: c}
}

func (h *ClassifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Request body must be an image")
		return
	}

	result, err := h.classifier.ClassifyBytes(data)
	switch {
	case errors.Is(err, imageio.ErrUnknownFormat):
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported image format")
		return
	case errors.Is(err, color.ErrInvalidCrop):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to classify image")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
