package bridge

import (
	"strconv"
	"strings"
)

// TrainArgs are the trainer options passed to `yolo detect train`.
type TrainArgs struct {
	Data         string
	Model        string
	Epochs       int
	ImgSize      int
	Batch        int
	Device       string
	Patience     int
	LearningRate float64
	Project      string
	Name         string
	Mosaic       float64
	Scale        float64
	Degrees      float64
	HSVH         float64
	HSVS         float64
	HSVV         float64
}

// Args renders the command line in a fixed order.
func (a TrainArgs) Args() []string {
	return []string{
		"detect", "train",
		kv("data", a.Data),
		kv("model", a.Model),
		kv("epochs", strconv.Itoa(a.Epochs)),
		kv("imgsz", strconv.Itoa(a.ImgSize)),
		kv("batch", strconv.Itoa(a.Batch)),
		kv("device", a.Device),
		kv("patience", strconv.Itoa(a.Patience)),
		kv("lr0", formatFloat(a.LearningRate)),
		kv("project", a.Project),
		kv("name", a.Name),
		kv("exist_ok", formatBool(true)),
		kv("plots", formatBool(true)),
		kv("mosaic", formatFloat(a.Mosaic)),
		kv("scale", formatFloat(a.Scale)),
		kv("degrees", formatFloat(a.Degrees)),
		kv("hsv_h", formatFloat(a.HSVH)),
		kv("hsv_s", formatFloat(a.HSVS)),
		kv("hsv_v", formatFloat(a.HSVV)),
	}
}

// ExportArgs are the options passed to `yolo export`.
type ExportArgs struct {
	Model   string
	Format  string
	ImgSize int
	Half    bool
	Dynamic bool
	Opset   int
}

// Args renders the command line in a fixed order. opset is only sent for
// ONNX exports.
func (a ExportArgs) Args() []string {
	args := []string{
		"export",
		kv("model", a.Model),
		kv("format", a.Format),
		kv("imgsz", strconv.Itoa(a.ImgSize)),
		kv("half", formatBool(a.Half)),
		kv("dynamic", formatBool(a.Dynamic)),
	}
	if a.Format == "onnx" && a.Opset > 0 {
		args = append(args, kv("opset", strconv.Itoa(a.Opset)))
	}
	return args
}

// PredictArgs are the options passed to `yolo detect predict`.
type PredictArgs struct {
	Model      string
	Source     string
	ImgSize    int
	Confidence float64
	IOU        float64
	Project    string
	Name       string
}

// Args renders the command line in a fixed order.
func (a PredictArgs) Args() []string {
	name := a.Name
	if name == "" {
		name = "predict"
	}
	return []string{
		"detect", "predict",
		kv("model", a.Model),
		kv("source", a.Source),
		kv("imgsz", strconv.Itoa(a.ImgSize)),
		kv("conf", formatFloat(a.Confidence)),
		kv("iou", formatFloat(a.IOU)),
		kv("save", formatBool(true)),
		kv("project", a.Project),
		kv("name", name),
		kv("exist_ok", formatBool(true)),
	}
}

func kv(key, value string) string {
	var b strings.Builder
	b.Grow(len(key) + len(value) + 1)
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// formatBool uses the capitalised spelling the yolo CLI parser expects.
func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
