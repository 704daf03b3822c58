// Package imageio loads, crops, annotates and saves frames as OpenCV Mats.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"gocv.io/x/gocv"
)

// ErrUnknownFormat is returned when no decoder accepts the input.
var ErrUnknownFormat = errors.New("image: unknown or unsupported format")

// WebPQuality is the lossy quality used when saving .webp files.
const WebPQuality = 90

// Label is a box drawn onto a frame with a caption.
type Label struct {
	Box   image.Rectangle
	Text  string
	Color color.RGBA
}

// Load reads an image file into an 8-bit BGR Mat. OpenCV decoders are
// tried first; formats OpenCV was built without fall back to Go decoders.
func Load(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), fmt.Errorf("load image: %w", err)
	}

	m := gocv.IMRead(path, gocv.IMReadColor)
	if !m.Empty() {
		return m, nil
	}
	m.Close()

	img, err := imaging.Open(path)
	if err != nil {
		f, openErr := os.Open(path)
		if openErr != nil {
			return gocv.NewMat(), fmt.Errorf("load image: %w", openErr)
		}
		defer f.Close()
		if img, err = webp.Decode(f); err != nil {
			return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUnknownFormat, path)
		}
	}
	return FromImage(img)
}

// Decode reads an encoded image held in memory into an 8-bit BGR Mat.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrUnknownFormat
	}

	m, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !m.Empty() {
		return m, nil
	}
	m.Close()

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		if img, err = webp.Decode(bytes.NewReader(data)); err != nil {
			return gocv.NewMat(), ErrUnknownFormat
		}
	}
	return FromImage(img)
}

// FromImage converts a Go image to an 8-bit BGR Mat.
func FromImage(img image.Image) (gocv.Mat, error) {
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image: %w", err)
	}
	return m, nil
}

// Clamp restricts r to the frame bounds.
func Clamp(r image.Rectangle, cols, rows int) image.Rectangle {
	return r.Canon().Intersect(image.Rect(0, 0, cols, rows))
}

// Crop copies the part of m inside r. The box is clamped to the frame;
// ok is false when nothing is left.
func Crop(m gocv.Mat, r image.Rectangle) (crop gocv.Mat, ok bool) {
	r = Clamp(r, m.Cols(), m.Rows())
	if r.Empty() {
		return gocv.NewMat(), false
	}
	region := m.Region(r)
	defer region.Close()
	return region.Clone(), true
}

// Annotate draws every label onto m in place.
func Annotate(m *gocv.Mat, labels []Label) {
	for _, l := range labels {
		box := Clamp(l.Box, m.Cols(), m.Rows())
		if box.Empty() {
			continue
		}
		gocv.Rectangle(m, box, l.Color, 2)

		if l.Text == "" {
			continue
		}
		size := gocv.GetTextSize(l.Text, gocv.FontHersheySimplex, 0.5, 1)
		y := box.Min.Y - 4
		if y-size.Y < 0 {
			y = box.Min.Y + size.Y + 4
		}
		bg := image.Rect(box.Min.X, y-size.Y-2, box.Min.X+size.X+2, y+2)
		gocv.Rectangle(m, bg, l.Color, -1)
		gocv.PutText(m, l.Text, image.Pt(box.Min.X+1, y), gocv.FontHersheySimplex, 0.5, color.RGBA{0, 0, 0, 255}, 1)
	}
}

// Save writes m to path, choosing the encoder from the extension.
// Parent directories are created.
func Save(path string, m gocv.Mat) error {
	if m.Empty() {
		return fmt.Errorf("save image: empty frame")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save image: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		img, err := m.ToImage()
		if err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		defer f.Close()
		if err := webp.Encode(f, img, &webp.Options{Quality: WebPQuality}); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
		return nil
	case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff":
		if !gocv.IMWrite(path, m) {
			return fmt.Errorf("save image: opencv could not write %s", path)
		}
		return nil
	default:
		img, err := m.ToImage()
		if err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		return nil
	}
}
