package detector

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// ErrUnsupportedModel is returned for model files that cannot be run
// in-process, such as PyTorch checkpoints.
var ErrUnsupportedModel = errors.New("unsupported model format")

// Detector defines the interface for bottle cap detection implementations.
type Detector interface {
	// Detect analyzes a BGR frame and returns the detected objects in
	// frame pixel coordinates. Returns an empty slice if nothing is found.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Detection is one object found in a frame.
type Detection struct {
	Box        image.Rectangle
	ClassID    int
	Confidence float32
}

// Config holds configuration options for detection.
type Config struct {
	// InputSize is the square network input in pixels.
	InputSize int

	// MinConfidence is the minimum class score kept (0.0-1.0).
	MinConfidence float32

	// NMSThreshold is the IoU above which overlapping boxes are suppressed.
	NMSThreshold float32
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		InputSize:     320,
		MinConfidence: 0.25,
		NMSThreshold:  0.45,
	}
}
