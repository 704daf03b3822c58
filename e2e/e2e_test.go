package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/bridge"
	"github.com/ayusman/bsort/internal/config"
	"github.com/ayusman/bsort/internal/detector"
	"github.com/ayusman/bsort/internal/server"
	"github.com/ayusman/bsort/internal/store"
)

// fakeYOLO stands in for the Ultralytics CLI and writes the files a real
// train and export would leave behind.
const fakeYOLO = `#!/bin/sh
project=""; name=""; model=""; format=""
for a in "$@"; do
  case "$a" in
    project=*) project="${a#project=}" ;;
    name=*) name="${a#name=}" ;;
    model=*) model="${a#model=}" ;;
    format=*) format="${a#format=}" ;;
  esac
done
echo "yolo $*" >&2
if [ "$1" = "detect" ] && [ "$2" = "train" ]; then
  mkdir -p "$project/$name/weights" && echo weights > "$project/$name/weights/best.pt"
fi
if [ "$1" = "export" ]; then
  mkdir -p "${model%.pt}_${format}_model"
fi
`

func newWorkflow(t *testing.T) (*app.App, *store.Store, *detector.MockDetector, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}

	tmpDir := t.TempDir()
	bin := filepath.Join(tmpDir, "yolo")
	if err := os.WriteFile(bin, []byte(fakeYOLO), 0o755); err != nil {
		t.Fatalf("write fake yolo: %v", err)
	}

	runner, err := bridge.New(bin)
	if err != nil {
		t.Fatalf("bridge.New() error = %v", err)
	}

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	settings := config.Default()
	settings.ProjectName = filepath.Join(tmpDir, "Bottle-Cap-Detection")
	settings.Artifacts.SearchPaths = nil
	settings.Inference.OutputDir = filepath.Join(tmpDir, "out")
	settings.Inference.Warmup = 1

	mock := detector.NewMockDetector()
	application := app.New(app.Config{
		Settings: settings,
		Store:    s,
		YOLO:     runner,
		NewDetector: func(path string, cfg detector.Config) (detector.Detector, error) {
			return mock, nil
		},
	})
	return application, s, mock, tmpDir
}

func writeCapsImage(t *testing.T, dir string) string {
	t.Helper()
	// Light blue (hue 100) on the left, dark blue (hue 120) on the right
	img := imaging.New(200, 100, color.NRGBA{R: 0, G: 170, B: 255, A: 255})
	img = imaging.Paste(img, imaging.New(100, 100, color.NRGBA{R: 0, G: 0, B: 255, A: 255}), image.Pt(100, 0))
	path := filepath.Join(dir, "belt.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save image: %v", err)
	}
	return path
}

func TestE2E_TrainExportInfer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	application, s, mock, tmpDir := newWorkflow(t)
	ctx := context.Background()

	t.Run("Train", func(t *testing.T) {
		result, err := application.Train(ctx, app.TrainOptions{})
		if err != nil {
			t.Fatalf("Train() error = %v", err)
		}
		if _, err := os.Stat(result.Checkpoint); err != nil {
			t.Errorf("checkpoint missing: %v", err)
		}
		if filepath.Base(result.Exported) != "best_openvino_model" {
			t.Errorf("exported = %s, want best_openvino_model", result.Exported)
		}
	})

	t.Run("ResolvePrefersExport", func(t *testing.T) {
		cand, ok := application.Resolve()
		if !ok {
			t.Fatal("Resolve() found nothing after training")
		}
		if filepath.Base(cand.Path) != "best_openvino_model" {
			t.Errorf("resolved %s, want the optimized export", cand.Path)
		}
	})

	var inferRunID string
	t.Run("Infer", func(t *testing.T) {
		mock.SetDetections([]detector.Detection{
			detector.CapAt(10, 10, 90, 90, 0.93),
			detector.CapAt(110, 10, 190, 90, 0.87),
		})

		report, err := application.Infer(ctx, app.ImageSource(writeCapsImage(t, tmpDir)))
		if err != nil {
			t.Fatalf("Infer() error = %v", err)
		}
		inferRunID = report.RunID

		if report.Counts["Light Blue"] != 1 || report.Counts["Dark Blue"] != 1 {
			t.Errorf("counts = %v, want one light and one dark blue cap", report.Counts)
		}
		if _, err := os.Stat(report.OutputPath); err != nil {
			t.Errorf("annotated image missing: %v", err)
		}
	})

	srv := server.New(server.Config{App: application, Store: s})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	t.Run("ListRuns", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/runs")
		if err != nil {
			t.Fatalf("GET /api/runs error = %v", err)
		}
		defer resp.Body.Close()

		var listed struct {
			Runs []store.Run `json:"runs"`
		}
		json.NewDecoder(resp.Body).Decode(&listed)

		if len(listed.Runs) != 3 {
			t.Fatalf("len(runs) = %d, want 3 (train, export, infer)", len(listed.Runs))
		}
		for _, r := range listed.Runs {
			if r.Status != store.RunStatusSucceeded {
				t.Errorf("run %s (%s) status = %s", r.ID, r.Kind, r.Status)
			}
		}
	})

	t.Run("ShowInferRun", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/runs/" + inferRunID)
		if err != nil {
			t.Fatalf("GET /api/runs/{id} error = %v", err)
		}
		defer resp.Body.Close()

		var shown struct {
			Kind       string            `json:"kind"`
			Detections []store.Detection `json:"detections"`
			Counts     map[string]int    `json:"counts"`
		}
		json.NewDecoder(resp.Body).Decode(&shown)

		if shown.Kind != "infer" {
			t.Errorf("kind = %s, want infer", shown.Kind)
		}
		if len(shown.Detections) != 2 {
			t.Errorf("len(detections) = %d, want 2", len(shown.Detections))
		}
		if shown.Counts["Dark Blue"] != 1 {
			t.Errorf("counts = %v", shown.Counts)
		}
	})

	t.Run("ClassifyUpload", func(t *testing.T) {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, imaging.New(32, 32, color.NRGBA{R: 0, G: 0, B: 255, A: 255}), imaging.PNG); err != nil {
			t.Fatalf("encode: %v", err)
		}

		resp, err := client.Post(ts.URL+"/api/classify", "image/png", &buf)
		if err != nil {
			t.Fatalf("POST /api/classify error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var result app.ClassifyResult
		json.NewDecoder(resp.Body).Decode(&result)
		if result.Label != "Dark Blue" {
			t.Errorf("label = %s, want Dark Blue", result.Label)
		}
	})
}

func TestE2E_InferWithoutModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	application, s, _, _ := newWorkflow(t)

	srv := server.New(server.Config{App: application, Store: s})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/api/infer", "image/png", bytes.NewReader([]byte("not used")))
	if err != nil {
		t.Fatalf("POST /api/infer error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	resp, err = ts.Client().Get(ts.URL + "/api/model")
	if err != nil {
		t.Fatalf("GET /api/model error = %v", err)
	}
	defer resp.Body.Close()

	var model struct {
		Found bool `json:"found"`
	}
	json.NewDecoder(resp.Body).Decode(&model)
	if model.Found {
		t.Error("model reported found before training")
	}
}
