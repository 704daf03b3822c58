package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/artifact"
	"github.com/ayusman/bsort/internal/color"
	"github.com/ayusman/bsort/internal/imageio"
)

type fakeClassifier struct {
	got    []byte
	result *app.ClassifyResult
	err    error
}

func (f *fakeClassifier) ClassifyBytes(data []byte) (*app.ClassifyResult, error) {
	f.got = data
	return f.result, f.err
}

func TestClassifyHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       []byte
		err        error
		wantStatus int
	}{
		{"classifies image", http.MethodPost, []byte("jpeg-bytes"), nil, http.StatusOK},
		{"rejects GET", http.MethodGet, nil, nil, http.StatusMethodNotAllowed},
		{"rejects empty body", http.MethodPost, nil, nil, http.StatusBadRequest},
		{"unknown format", http.MethodPost, []byte("text"), imageio.ErrUnknownFormat, http.StatusUnsupportedMediaType},
		{"image too small", http.MethodPost, []byte("tiny"), fmt.Errorf("%w: 2x2", color.ErrInvalidCrop), http.StatusUnprocessableEntity},
		{"internal error", http.MethodPost, []byte("x"), errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClassifier{
				result: &app.ClassifyResult{Class: color.DarkBlue, Label: "Dark Blue", ClassID: 1, MeanHue: 120},
				err:    tt.err,
			}
			handler := NewClassifyHandler(c)

			req := httptest.NewRequest(tt.method, "/api/classify", bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			if !bytes.Equal(c.got, tt.body) {
				t.Errorf("classifier got %q, want %q", c.got, tt.body)
			}
			var result app.ClassifyResult
			if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if result.Label != "Dark Blue" || result.ClassID != 1 {
				t.Errorf("unexpected result %+v", result)
			}
		})
	}
}

type fakeInferer struct {
	src     app.Source
	content []byte
	err     error
}

func (f *fakeInferer) Infer(ctx context.Context, src app.Source) (*app.InferenceReport, error) {
	f.src = src
	f.content, _ = os.ReadFile(src.ImagePath)
	if f.err != nil {
		return nil, f.err
	}
	return &app.InferenceReport{
		Model:   "best_openvino_model",
		Backend: app.BackendDNN,
		Counts:  map[string]int{"Light Blue": 2},
	}, nil
}

func TestInferHandler(t *testing.T) {
	t.Run("spools upload and reports", func(t *testing.T) {
		inf := &fakeInferer{}
		handler := NewInferHandler(inf)

		req := httptest.NewRequest(http.MethodPost, "/api/infer", bytes.NewReader([]byte("png-bytes")))
		req.Header.Set("Content-Type", "image/png")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if string(inf.content) != "png-bytes" {
			t.Errorf("inferer saw %q", inf.content)
		}
		if ext := inf.src.ImagePath[len(inf.src.ImagePath)-4:]; ext != ".png" {
			t.Errorf("expected .png upload, got %s", inf.src.ImagePath)
		}
		if _, err := os.Stat(inf.src.ImagePath); !os.IsNotExist(err) {
			t.Errorf("expected upload to be removed, stat err = %v", err)
		}

		var report app.InferenceReport
		if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if report.Counts["Light Blue"] != 2 {
			t.Errorf("unexpected counts %v", report.Counts)
		}
	})

	errorTests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no model", fmt.Errorf("%w: searched []", app.ErrNoArtifact), http.StatusServiceUnavailable},
		{"no backend", app.ErrNoBackend, http.StatusServiceUnavailable},
		{"bad image", imageio.ErrUnknownFormat, http.StatusUnsupportedMediaType},
		{"failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInferHandler(&fakeInferer{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/infer", bytes.NewReader([]byte("x")))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	t.Run("rejects empty body", func(t *testing.T) {
		handler := NewInferHandler(&fakeInferer{})

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/infer", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

type fakeResolver struct {
	cand artifact.Candidate
	ok   bool
}

func (f fakeResolver) Resolve() (artifact.Candidate, bool) { return f.cand, f.ok }
func (f fakeResolver) Candidates() []string              { return []string{"a/weights", "b/weights"} }

func TestModelHandler(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		handler := NewModelHandler(fakeResolver{
			cand: artifact.Candidate{Path: "a/weights/best_openvino_model", Tier: artifact.TierOptimized},
			ok:   true,
		})

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))

		var resp modelResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !resp.Found || resp.Tier != "optimized" || resp.Path != "a/weights/best_openvino_model" {
			t.Errorf("unexpected response %+v", resp)
		}
		if len(resp.Candidates) != 2 {
			t.Errorf("expected 2 candidates, got %v", resp.Candidates)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		handler := NewModelHandler(fakeResolver{})

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))

		var resp modelResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Found || resp.Path != "" {
			t.Errorf("unexpected response %+v", resp)
		}
	})
}
