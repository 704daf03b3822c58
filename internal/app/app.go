// Package app ties settings, the run ledger, the YOLO bridge, the detector
// and the colour classifier into the train, export and infer workflows.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ayusman/bsort/internal/artifact"
	"github.com/ayusman/bsort/internal/bridge"
	"github.com/ayusman/bsort/internal/config"
	"github.com/ayusman/bsort/internal/detector"
	"github.com/ayusman/bsort/internal/store"
)

var (
	// ErrNoArtifact is returned when no model is found in any search directory.
	ErrNoArtifact = errors.New("no trained model found")
	// ErrNoCheckpoint is returned when export finds no standard checkpoint.
	ErrNoCheckpoint = errors.New("no trained checkpoint found")
	// ErrNoBackend is returned when a workflow needs the yolo program but
	// none is configured.
	ErrNoBackend = errors.New("yolo program not available")
)

// YOLO is the subset of the bridge the workflows use.
type YOLO interface {
	Train(ctx context.Context, a bridge.TrainArgs) error
	Export(ctx context.Context, a bridge.ExportArgs) (string, error)
	Predict(ctx context.Context, a bridge.PredictArgs) (string, error)
}

// DetectorFactory opens an in-process detector for a resolved artifact.
// It returns detector.ErrUnsupportedModel for formats it cannot run.
type DetectorFactory func(modelPath string, cfg detector.Config) (detector.Detector, error)

// Config holds the collaborators of an App. Only Settings is required.
type Config struct {
	Settings    *config.Settings
	Store       *store.Store
	YOLO        YOLO
	NewDetector DetectorFactory
	Logger      *slog.Logger
}

// App runs bsort workflows.
type App struct {
	config      Config
	settings    *config.Settings
	resolver    *artifact.Resolver
	newDetector DetectorFactory
	logger      *slog.Logger
	observer    func(store.Run)
	mu          sync.RWMutex
}

// New creates a new App instance with the given configuration.
func New(cfg Config) *App {
	a := &App{
		config:      cfg,
		newDetector: cfg.NewDetector,
		logger:      cfg.Logger,
	}
	if a.newDetector == nil {
		a.newDetector = openDNN
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	a.SetSettings(settings)
	return a
}

func openDNN(path string, cfg detector.Config) (detector.Detector, error) {
	d, err := detector.NewDNNDetector(path, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SetSettings swaps the active settings, e.g. after a config reload.
func (a *App) SetSettings(s *config.Settings) {
	r := artifact.NewResolver(artifact.Formats{
		OptimizedPattern: s.Artifacts.OptimizedPattern,
		StandardName:     s.Artifacts.StandardName,
	}, s.Artifacts.SearchPaths)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = s
	a.resolver = r
}

// Settings returns the active settings.
func (a *App) Settings() *config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

func (a *App) snapshot() (*config.Settings, *artifact.Resolver) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings, a.resolver
}

// OnRun registers fn to be called with a copy of every recorded run when
// it starts and when it finishes.
func (a *App) OnRun(fn func(store.Run)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = fn
}

func (a *App) notify(run *store.Run) {
	a.mu.RLock()
	fn := a.observer
	a.mu.RUnlock()
	if fn != nil {
		fn(*run)
	}
}

// Store returns the run ledger, which may be nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// Candidates lists the directories searched for a model, in order.
func (a *App) Candidates() []string {
	s, r := a.snapshot()
	return r.Candidates(s.BaseDir(), s.ExpName)
}

// Resolve returns the model inference would use.
func (a *App) Resolve() (artifact.Candidate, bool) {
	s, r := a.snapshot()
	return r.Resolve(s.BaseDir(), s.ExpName)
}

// beginRun records a new run when a ledger is configured. The returned
// finish func is always safe to call.
func (a *App) beginRun(run *store.Run, params any) func(error) {
	if a.config.Store == nil {
		return func(error) {}
	}

	if params != nil {
		if data, err := json.Marshal(params); err == nil {
			run.Params = data
		}
	}
	if err := a.config.Store.Runs().Create(run); err != nil {
		a.logger.Warn("Failed to record run", "kind", run.Kind, "error", err)
		return func(error) {}
	}
	a.notify(run)

	return func(runErr error) {
		if err := a.config.Store.Runs().Finish(run, runErr); err != nil {
			a.logger.Warn("Failed to finish run", "run_id", run.ID, "error", err)
			return
		}
		a.notify(run)
	}
}
