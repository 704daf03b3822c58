package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/artifact"
	"github.com/ayusman/bsort/internal/store"
)

type fakeWorkflows struct {
	resolved bool
}

func (f *fakeWorkflows) ClassifyBytes(data []byte) (*app.ClassifyResult, error) {
	return &app.ClassifyResult{Label: "Light Blue", MeanHue: 100}, nil
}

func (f *fakeWorkflows) Infer(ctx context.Context, src app.Source) (*app.InferenceReport, error) {
	return &app.InferenceReport{Model: "best_openvino_model", Counts: map[string]int{}}, nil
}

func (f *fakeWorkflows) Resolve() (artifact.Candidate, bool) {
	if !f.resolved {
		return artifact.Candidate{}, false
	}
	return artifact.Candidate{Path: "weights/best.pt", Tier: artifact.TierStandard}, true
}

func (f *fakeWorkflows) Candidates() []string {
	return []string{"weights"}
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name      string
		app       Workflows
		wantModel any
	}{
		{name: "without workflows", app: nil, wantModel: nil},
		{name: "no model trained", app: &fakeWorkflows{}, wantModel: false},
		{name: "model resolved", app: &fakeWorkflows{resolved: true}, wantModel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{App: tt.app})
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var response map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response["status"] != "ok" {
				t.Errorf("status = %v, want ok", response["status"])
			}
			if _, ok := response["uptime"].(string); !ok {
				t.Errorf("uptime = %v, want a duration string", response["uptime"])
			}
			if got := response["model_ready"]; got != tt.wantModel {
				t.Errorf("model_ready = %v, want %v", got, tt.wantModel)
			}
		})
	}

	t.Run("rejects writes", func(t *testing.T) {
		s := New(Config{})
		for _, method := range []string{http.MethodPost, http.MethodDelete} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s: status = %d, want %d", method, rec.Code, http.StatusMethodNotAllowed)
			}
		}
	})
}

func TestServer_Dashboard(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>bsort runs</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	// A file shadowing an API path must not hide the API route.
	if err := os.MkdirAll(filepath.Join(dir, "api"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "api", "model"), []byte("static"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		staticDir  string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "index at root", staticDir: dir, path: "/", wantStatus: http.StatusOK, wantBody: index},
		{name: "missing asset", staticDir: dir, path: "/runs.js", wantStatus: http.StatusNotFound},
		{name: "api route wins", staticDir: dir, path: "/api/model", wantStatus: http.StatusOK},
		{name: "no dashboard configured", path: "/", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{StaticDir: tt.staticDir, App: &fakeWorkflows{}})
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if tt.path == "/api/model" && rec.Body.String() == "static" {
				t.Error("static file shadowed the model endpoint")
			}
		})
	}
}

func TestServer_Routes(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	t.Run("api routes absent without collaborators", func(t *testing.T) {
		s := New(Config{})
		for _, path := range []string{"/api/runs", "/api/model", "/api/stream"} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusNotFound {
				t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
			}
		}
	})

	t.Run("api routes present when configured", func(t *testing.T) {
		s := New(Config{App: &fakeWorkflows{}, Store: st})
		for _, path := range []string{"/api/runs", "/api/model"} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
			}
		}
	})
}

func TestServer_ListenAndServe(t *testing.T) {
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
