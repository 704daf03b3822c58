package detector

import (
	"fmt"
	"image"
	"math"
)

// Letterbox describes a frame resized with its aspect ratio kept and
// padded to the square network input.
type Letterbox struct {
	// Scale is network input pixels per frame pixel.
	Scale float64
	// Width and Height are the resized frame size inside the input.
	Width, Height int
	PadX, PadY    int
}

// NewLetterbox fits a frameW x frameH frame into a size x size input.
func NewLetterbox(frameW, frameH, size int) Letterbox {
	scale := math.Min(float64(size)/float64(frameW), float64(size)/float64(frameH))
	w := min(int(math.Round(float64(frameW)*scale)), size)
	h := min(int(math.Round(float64(frameH)*scale)), size)
	return Letterbox{
		Scale:  scale,
		Width:  w,
		Height: h,
		PadX:   (size - w) / 2,
		PadY:   (size - h) / 2,
	}
}

func (l Letterbox) toFrame(x, y float64) (int, int) {
	return int(math.Round((x - float64(l.PadX)) / l.Scale)), int(math.Round((y - float64(l.PadY)) / l.Scale))
}

// Decode converts raw YOLOv8 head output into detections.
//
// data holds a [channels, anchors] tensor in row-major order, where the
// first four channels are box centre x, centre y, width and height in
// network input pixels and the remaining channels are per-class scores.
// Boxes are mapped back through lb into frame pixels and clipped to
// bounds. Anchors whose best class score is below minConf are dropped.
func Decode(data []float32, channels, anchors int, lb Letterbox, bounds image.Rectangle, minConf float32) ([]Detection, error) {
	if lb.Scale <= 0 {
		return nil, fmt.Errorf("decode: letterbox scale %v", lb.Scale)
	}
	if channels < 5 {
		return nil, fmt.Errorf("decode: need at least 5 channels, got %d", channels)
	}
	if len(data) < channels*anchors {
		return nil, fmt.Errorf("decode: have %d values, want %d", len(data), channels*anchors)
	}

	at := func(c, i int) float32 { return data[c*anchors+i] }

	var out []Detection
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(-1)
		for c := 4; c < channels; c++ {
			if s := at(c, i); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if bestScore < minConf {
			continue
		}

		cx, cy := float64(at(0, i)), float64(at(1, i))
		w, h := float64(at(2, i)), float64(at(3, i))

		x0, y0 := lb.toFrame(cx-w/2, cy-h/2)
		x1, y1 := lb.toFrame(cx+w/2, cy+h/2)
		box := image.Rect(x0, y0, x1, y1).Intersect(bounds)
		if box.Empty() {
			continue
		}

		out = append(out, Detection{Box: box, ClassID: best, Confidence: bestScore})
	}
	return out, nil
}

// Transpose turns a [rows, cols] row-major tensor into [cols, rows].
// Some exporters emit the head as [anchors, channels].
func Transpose(data []float32, rows, cols int) []float32 {
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	return out
}
