package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	imgcolor "image/color"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/bsort/internal/artifact"
	"github.com/ayusman/bsort/internal/bridge"
	"github.com/ayusman/bsort/internal/capture"
	"github.com/ayusman/bsort/internal/color"
	"github.com/ayusman/bsort/internal/detector"
	"github.com/ayusman/bsort/internal/imageio"
	"github.com/ayusman/bsort/internal/store"
)

// Backend names reported in an InferenceReport.
const (
	BackendDNN  = "opencv-dnn"
	BackendYOLO = "yolo"
)

// predictDir is the sub-directory of inference.output_dir results go to.
const predictDir = "predict"

// Source is where the frame to analyse comes from. Exactly one of
// ImagePath or Camera is set.
type Source struct {
	ImagePath string
	Camera    capture.Camera
	Grab      capture.GrabOptions
	// Name labels camera sources in the run ledger.
	Name string
}

// ImageSource reads the frame from an image file.
func ImageSource(path string) Source {
	return Source{ImagePath: path}
}

// CameraSource grabs a still frame from cam.
func CameraSource(cam capture.Camera, name string, opts capture.GrabOptions) Source {
	return Source{Camera: cam, Name: name, Grab: opts}
}

func (s Source) String() string {
	if s.ImagePath != "" {
		return s.ImagePath
	}
	if s.Name != "" {
		return s.Name
	}
	return "camera"
}

// CapDetection is a detected cap with its colour label.
type CapDetection struct {
	Box        image.Rectangle `json:"box"`
	ClassID    int             `json:"class_id"`
	Confidence float32         `json:"confidence"`
	Color      color.Class     `json:"-"`
	ColorName  string          `json:"color"`
	MeanHue    float64         `json:"mean_hue"`
}

// InferenceReport is the outcome of one inference.
type InferenceReport struct {
	RunID      string         `json:"run_id,omitempty"`
	Model      string         `json:"model"`
	Tier       string         `json:"tier"`
	Backend    string         `json:"backend"`
	Latency    time.Duration  `json:"latency"`
	Detections []CapDetection `json:"detections"`
	Counts     map[string]int `json:"counts"`
	OutputPath string         `json:"output_path"`
}

// Infer resolves the trained model, runs it on the source and labels
// every detected cap with its colour.
func (a *App) Infer(ctx context.Context, src Source) (*InferenceReport, error) {
	if src.ImagePath == "" && src.Camera == nil {
		return nil, errors.New("infer: no image or camera given")
	}
	s, r := a.snapshot()

	cand, ok := r.Resolve(s.BaseDir(), s.ExpName)
	if !ok {
		return nil, fmt.Errorf("%w: searched %v", ErrNoArtifact, r.Candidates(s.BaseDir(), s.ExpName))
	}
	a.logger.Info("Loading model", "path", cand.Path, "tier", string(cand.Tier))

	report := &InferenceReport{
		Model:  cand.Path,
		Tier:   string(cand.Tier),
		Counts: map[string]int{},
	}

	run := &store.Run{
		Kind:       store.RunKindInfer,
		Experiment: s.ExpName,
		Artifact:   cand.Path,
		Source:     src.String(),
	}
	finish := a.beginRun(run, map[string]any{
		"img_size":   s.Dataset.ImgSize,
		"confidence": s.Inference.ConfidenceThreshold,
		"iou":        s.Inference.IOUThreshold,
		"warmup":     s.Inference.Warmup,
	})
	report.RunID = run.ID

	err := a.infer(ctx, src, cand, report)
	if err == nil {
		latency := float64(report.Latency) / float64(time.Millisecond)
		run.LatencyMS = &latency
	}
	finish(err)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Inference complete",
		"latency_ms", fmt.Sprintf("%.2f", float64(report.Latency)/float64(time.Millisecond)),
		"detections", len(report.Detections),
		"output", report.OutputPath,
	)
	return report, nil
}

func (a *App) infer(ctx context.Context, src Source, cand artifact.Candidate, report *InferenceReport) error {
	s, _ := a.snapshot()

	det, err := a.newDetector(cand.Path, detector.Config{
		InputSize:     s.Dataset.ImgSize,
		MinConfidence: float32(s.Inference.ConfidenceThreshold),
		NMSThreshold:  float32(s.Inference.IOUThreshold),
	})
	if err != nil {
		if a.config.YOLO == nil && !errors.Is(err, detector.ErrUnsupportedModel) {
			return fmt.Errorf("load model: %w", err)
		}
		a.logger.Info("Model cannot run in-process, delegating to yolo", "path", cand.Path, "reason", err)
		return a.predictWithYOLO(ctx, src, cand, report)
	}
	defer det.Close()

	frame, name, err := a.readFrame(ctx, src)
	if err != nil {
		return err
	}
	defer frame.Close()

	for i := 0; i < s.Inference.Warmup; i++ {
		if _, err := det.Detect(&frame); err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
	}

	start := time.Now()
	found, err := det.Detect(&frame)
	report.Latency = time.Since(start)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	report.Backend = BackendDNN

	labels := make([]imageio.Label, 0, len(found))
	for _, d := range found {
		cd := a.label(frame, d)
		report.Detections = append(report.Detections, cd)
		report.Counts[cd.ColorName]++
		labels = append(labels, imageio.Label{
			Box:   cd.Box,
			Text:  fmt.Sprintf("%s %.2f", cd.ColorName, cd.Confidence),
			Color: annotationColor(cd.Color),
		})
	}

	imageio.Annotate(&frame, labels)
	out := filepath.Join(s.Inference.OutputDir, predictDir, name)
	if err := imageio.Save(out, frame); err != nil {
		return err
	}
	report.OutputPath = out

	if a.config.Store != nil && report.RunID != "" && len(report.Detections) > 0 {
		rows := make([]store.Detection, len(report.Detections))
		for i, d := range report.Detections {
			rows[i] = store.Detection{
				ModelClass: d.ClassID,
				ColorClass: d.ColorName,
				Confidence: float64(d.Confidence),
				X:          d.Box.Min.X,
				Y:          d.Box.Min.Y,
				Width:      d.Box.Dx(),
				Height:     d.Box.Dy(),
			}
		}
		if err := a.config.Store.Detections().CreateBatch(report.RunID, rows); err != nil {
			a.logger.Warn("Failed to record detections", "run_id", report.RunID, "error", err)
		}
	}
	return nil
}

// label crops a detection out of frame and classifies its colour. Crops
// too small to classify are labelled Other.
func (a *App) label(frame gocv.Mat, d detector.Detection) CapDetection {
	cd := CapDetection{
		Box:        d.Box,
		ClassID:    d.ClassID,
		Confidence: d.Confidence,
		Color:      color.Other,
	}

	crop, ok := imageio.Crop(frame, d.Box)
	defer crop.Close()
	if ok {
		stats, err := color.Measure(crop)
		if err == nil {
			cd.Color = color.ClassifyHue(stats.MeanHue)
			cd.MeanHue = stats.MeanHue
		} else {
			a.logger.Debug("Crop not classifiable", "box", d.Box, "error", err)
		}
	}
	cd.ColorName = cd.Color.String()
	return cd
}

func (a *App) readFrame(ctx context.Context, src Source) (gocv.Mat, string, error) {
	if src.ImagePath != "" {
		m, err := imageio.Load(src.ImagePath)
		if err != nil {
			m.Close()
			return gocv.Mat{}, "", err
		}
		return m, filepath.Base(src.ImagePath), nil
	}

	f, err := capture.Grab(ctx, src.Camera, src.Grab)
	if err != nil {
		return gocv.Mat{}, "", fmt.Errorf("grab frame: %w", err)
	}
	return *f, "capture_" + time.Now().UTC().Format("20060102T150405") + ".jpg", nil
}

// predictWithYOLO runs standard checkpoints through the yolo program,
// which writes its own annotated image.
func (a *App) predictWithYOLO(ctx context.Context, src Source, cand artifact.Candidate, report *InferenceReport) error {
	if a.config.YOLO == nil {
		return fmt.Errorf("%w: %s needs the yolo program", ErrNoBackend, filepath.Base(cand.Path))
	}
	s, _ := a.snapshot()

	source := src.ImagePath
	if source == "" {
		frame, name, err := a.readFrame(ctx, src)
		if err != nil {
			return err
		}
		tmp := filepath.Join(os.TempDir(), "bsort-"+name)
		err = imageio.Save(tmp, frame)
		frame.Close()
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		source = tmp
	}

	start := time.Now()
	out, err := a.config.YOLO.Predict(ctx, bridge.PredictArgs{
		Model:      cand.Path,
		Source:     source,
		ImgSize:    s.Dataset.ImgSize,
		Confidence: s.Inference.ConfidenceThreshold,
		IOU:        s.Inference.IOUThreshold,
		Project:    s.Inference.OutputDir,
		Name:       predictDir,
	})
	report.Latency = time.Since(start)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	report.Backend = BackendYOLO
	report.OutputPath = out
	return nil
}

func annotationColor(c color.Class) imgcolor.RGBA {
	switch c {
	case color.LightBlue:
		return imgcolor.RGBA{R: 135, G: 206, B: 250, A: 255}
	case color.DarkBlue:
		return imgcolor.RGBA{R: 25, G: 25, B: 160, A: 255}
	default:
		return imgcolor.RGBA{R: 200, G: 200, B: 200, A: 255}
	}
}
