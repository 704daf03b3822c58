package detector

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/bsort/internal/artifact"
)

// DNNDetector runs an exported YOLO model with OpenCV's DNN module.
type DNNDetector struct {
	config Config
	net    gocv.Net
	model  string
	mu     sync.Mutex
}

// NewDNNDetector loads an ONNX file or an OpenVINO IR (a directory holding
// an .xml/.bin pair, or the .xml file itself).
func NewDNNDetector(modelPath string, config Config) (*DNNDetector, error) {
	if config.InputSize <= 0 {
		config.InputSize = DefaultConfig().InputSize
	}

	model, weights, err := modelFiles(modelPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(model, weights)
	if net.Empty() {
		// OpenCV builds without the OpenVINO backend, or without FP16
		// support, load IR models as empty networks.
		net.Close()
		return nil, fmt.Errorf("%w: OpenCV could not load %s", ErrUnsupportedModel, model)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	return &DNNDetector{
		config: config,
		net:    net,
		model:  model,
	}, nil
}

// Model returns the file the network was loaded from.
func (d *DNNDetector) Model() string {
	return d.model
}

// Detect runs one forward pass over frame.
func (d *DNNDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("detect: empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.config.InputSize
	lb := NewLetterbox(frame.Cols(), frame.Rows(), size)
	input := letterbox(*frame, lb, size)
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("detect: unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detect: read output: %w", err)
	}

	channels, anchors := dims[1], dims[2]
	if channels > anchors {
		data = Transpose(data, channels, anchors)
		channels, anchors = anchors, channels
	}

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())

	candidates, err := Decode(data, channels, anchors, lb, bounds, d.config.MinConfidence)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Detection{}, nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box
		scores[i] = c.Confidence
	}

	keep := gocv.NMSBoxes(boxes, scores, d.config.MinConfidence, d.config.NMSThreshold)
	result := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		result = append(result, candidates[idx])
	}
	return result, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// letterbox resizes frame into lb and pads it with YOLO's grey to a
// size x size square.
func letterbox(frame gocv.Mat, lb Letterbox, size int) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Pt(lb.Width, lb.Height), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &padded,
		lb.PadY, size-lb.Height-lb.PadY,
		lb.PadX, size-lb.Width-lb.PadX,
		gocv.BorderConstant, color.RGBA{R: 114, G: 114, B: 114})
	return padded
}

// modelFiles maps a resolved artifact path to the model and weights
// arguments of gocv.ReadNet.
func modelFiles(path string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("model %s: %w", path, err)
	}

	if info.IsDir() {
		matches, _ := artifact.Glob(path, "*.xml")
		if len(matches) > 0 {
			return irPair(matches[0])
		}
		matches, _ = artifact.Glob(path, "*.onnx")
		if len(matches) > 0 {
			return matches[0], "", nil
		}
		return "", "", fmt.Errorf("%w: no .xml or .onnx model in %s", ErrUnsupportedModel, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		return path, "", nil
	case ".xml":
		return irPair(path)
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedModel, filepath.Base(path))
	}
}

func irPair(xml string) (string, string, error) {
	bin := strings.TrimSuffix(xml, filepath.Ext(xml)) + ".bin"
	if _, err := os.Stat(bin); err != nil {
		return "", "", fmt.Errorf("openvino weights %s: %w", bin, err)
	}
	return xml, bin, nil
}
