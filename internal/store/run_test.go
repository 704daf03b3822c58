package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a store in a temporary directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestRunRepository_Create(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	run := &Run{
		Kind:       RunKindInfer,
		Experiment: "production_build",
		Artifact:   "weights/best_openvino_model",
		Source:     "caps.jpg",
		Params:     json.RawMessage(`{"conf":0.25}`),
	}

	if err := repo.Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if run.ID == "" {
		t.Fatal("Create() should assign an ID")
	}
	if run.Status != RunStatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, RunStatusRunning)
	}

	got, err := repo.GetByID(run.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Kind != RunKindInfer || got.Experiment != "production_build" || got.Source != "caps.jpg" {
		t.Errorf("unexpected run %+v", got)
	}
	if string(got.Params) != `{"conf":0.25}` {
		t.Errorf("Params = %s", got.Params)
	}
	if got.LatencyMS != nil {
		t.Errorf("LatencyMS should be unset, got %v", *got.LatencyMS)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be unset for a running run")
	}
	if got.StartedAt.Sub(run.StartedAt).Abs() > time.Second {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, run.StartedAt)
	}
}

func TestRunRepository_Create_RejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)

	if err := s.Runs().Create(&Run{Kind: "deploy", Experiment: "exp"}); err == nil {
		t.Error("expected error for unknown run kind")
	}
}

func TestRunRepository_Finish(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	t.Run("success records latency and artifact", func(t *testing.T) {
		run := &Run{Kind: RunKindInfer, Experiment: "exp"}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		latency := 12.5
		run.LatencyMS = &latency
		run.Artifact = "best.onnx"
		if err := repo.Finish(run, nil); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.GetByID(run.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != RunStatusSucceeded {
			t.Errorf("Status = %q, want %q", got.Status, RunStatusSucceeded)
		}
		if got.LatencyMS == nil || *got.LatencyMS != 12.5 {
			t.Errorf("LatencyMS = %v, want 12.5", got.LatencyMS)
		}
		if got.Artifact != "best.onnx" {
			t.Errorf("Artifact = %q", got.Artifact)
		}
		if got.FinishedAt == nil {
			t.Fatal("FinishedAt should be set")
		}
		if got.Duration() < 0 {
			t.Errorf("Duration() = %v", got.Duration())
		}
	})

	t.Run("failure records the error", func(t *testing.T) {
		run := &Run{Kind: RunKindTrain, Experiment: "exp"}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if err := repo.Finish(run, errors.New("dataset missing")); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.GetByID(run.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != RunStatusFailed || got.Error != "dataset missing" {
			t.Errorf("got status %q error %q", got.Status, got.Error)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		err := repo.Finish(&Run{ID: "missing"}, nil)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRunRepository_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Runs().GetByID("non-existent-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := []*Run{
		{Kind: RunKindTrain, Experiment: "exp", StartedAt: base},
		{Kind: RunKindExport, Experiment: "exp", StartedAt: base.Add(time.Minute)},
		{Kind: RunKindInfer, Experiment: "exp", StartedAt: base.Add(2 * time.Minute)},
		{Kind: RunKindInfer, Experiment: "exp", StartedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range runs {
		if err := repo.Create(r); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	t.Run("all newest first", func(t *testing.T) {
		got, err := repo.List(ListOptions{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("expected 4 runs, got %d", len(got))
		}
		if got[0].ID != runs[3].ID || got[3].ID != runs[0].ID {
			t.Error("runs should be ordered newest first")
		}
	})

	t.Run("filter by kind", func(t *testing.T) {
		got, err := repo.List(ListOptions{Kind: RunKindInfer})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 infer runs, got %d", len(got))
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := repo.List(ListOptions{Limit: 1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != runs[3].ID {
			t.Errorf("expected only the newest run, got %d runs", len(got))
		}
	})
}

func TestRunRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	run := &Run{Kind: RunKindInfer, Experiment: "exp"}
	if err := repo.Create(run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Detections().CreateBatch(run.ID, []Detection{{ColorClass: "Other"}}); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	if err := repo.Delete(run.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.GetByID(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	dets, err := s.Detections().ListByRun(run.ID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("detections should cascade, got %d", len(dets))
	}

	if err := repo.Delete(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRunKind_Constants(t *testing.T) {
	if RunKindTrain != "train" || RunKindExport != "export" || RunKindInfer != "infer" {
		t.Error("run kinds must match the database CHECK constraint")
	}
}
