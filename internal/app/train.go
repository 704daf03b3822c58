package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ayusman/bsort/internal/artifact"
	"github.com/ayusman/bsort/internal/bridge"
	"github.com/ayusman/bsort/internal/store"
)

// TrainOptions adjust a training run.
type TrainOptions struct {
	// SkipExport stops after training.
	SkipExport bool
}

// TrainResult describes what training produced.
type TrainResult struct {
	RunID      string
	Checkpoint string
	Exported   string
}

// Train runs the trainer for the configured experiment and, unless
// disabled, exports the resulting checkpoint.
func (a *App) Train(ctx context.Context, opts TrainOptions) (*TrainResult, error) {
	if a.config.YOLO == nil {
		return nil, ErrNoBackend
	}
	s, _ := a.snapshot()

	args := bridge.TrainArgs{
		Data:         s.Dataset.Path,
		Model:        s.Train.ModelName,
		Epochs:       s.Train.Epochs,
		ImgSize:      s.Dataset.ImgSize,
		Batch:        s.Train.BatchSize,
		Device:       s.Train.Device,
		Patience:     s.Train.Patience,
		LearningRate: s.Train.LearningRate,
		Project:      s.BaseDir(),
		Name:         s.ExpName,
		Mosaic:       s.Train.Augment.Mosaic,
		Scale:        s.Train.Augment.Scale,
		Degrees:      s.Train.Augment.Degrees,
		HSVH:         s.Train.Augment.HSVH,
		HSVS:         s.Train.Augment.HSVS,
		HSVV:         s.Train.Augment.HSVV,
	}

	run := &store.Run{Kind: store.RunKindTrain, Experiment: s.ExpName, Source: s.Dataset.Path}
	finish := a.beginRun(run, args)

	a.logger.Info("Starting training", "experiment", s.ExpName, "img_size", s.Dataset.ImgSize, "epochs", s.Train.Epochs)

	if err := a.config.YOLO.Train(ctx, args); err != nil {
		finish(err)
		return nil, fmt.Errorf("train: %w", err)
	}

	result := &TrainResult{
		RunID:      run.ID,
		Checkpoint: filepath.Join(artifact.WeightsDir(s.BaseDir(), s.ExpName), s.Artifacts.StandardName),
	}
	run.Artifact = result.Checkpoint
	finish(nil)

	if opts.SkipExport {
		return result, nil
	}

	exported, err := a.exportCheckpoint(ctx, result.Checkpoint)
	if err != nil {
		return result, err
	}
	result.Exported = exported
	return result, nil
}

// Export converts the newest standard checkpoint to the configured format.
func (a *App) Export(ctx context.Context) (string, error) {
	if a.config.YOLO == nil {
		return "", ErrNoBackend
	}
	s, r := a.snapshot()

	cand, ok := r.ResolveStandard(s.BaseDir(), s.ExpName)
	if !ok {
		return "", fmt.Errorf("%w: looked for %s in %v", ErrNoCheckpoint, s.Artifacts.StandardName, r.Candidates(s.BaseDir(), s.ExpName))
	}
	return a.exportCheckpoint(ctx, cand.Path)
}

func (a *App) exportCheckpoint(ctx context.Context, checkpoint string) (string, error) {
	s, _ := a.snapshot()

	removed, err := artifact.Prune(filepath.Dir(checkpoint), s.Artifacts.OptimizedPattern)
	if err != nil {
		return "", fmt.Errorf("prune stale exports: %w", err)
	}
	for _, p := range removed {
		a.logger.Info("Removed stale export", "path", p)
	}

	args := bridge.ExportArgs{
		Model:   checkpoint,
		Format:  s.Export.Format,
		ImgSize: s.Dataset.ImgSize,
		Half:    s.Export.Half,
		Dynamic: s.Export.Dynamic,
		Opset:   s.Export.Opset,
	}

	run := &store.Run{Kind: store.RunKindExport, Experiment: s.ExpName, Source: checkpoint}
	finish := a.beginRun(run, args)

	a.logger.Info("Exporting model", "checkpoint", checkpoint, "format", s.Export.Format, "half", s.Export.Half)

	exported, err := a.config.YOLO.Export(ctx, args)
	if err != nil {
		finish(err)
		return "", fmt.Errorf("export: %w", err)
	}

	run.Artifact = exported
	finish(nil)

	a.logger.Info("Export finished", "path", exported)
	return exported, nil
}
