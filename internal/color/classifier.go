// Package color labels detected bottle caps by the dominant hue of their crop.
package color

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Class is the colour label assigned to a cap.
type Class int

const (
	// LightBlue caps have a mean hue strictly between 90 and 110.
	LightBlue Class = 0
	// DarkBlue caps have a mean hue in [110, 130).
	DarkBlue Class = 1
	// Other is every other hue.
	Other Class = 2
)

// String returns the human-readable label.
func (c Class) String() string {
	switch c {
	case LightBlue:
		return "Light Blue"
	case DarkBlue:
		return "Dark Blue"
	case Other:
		return "Other"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Hue thresholds, in OpenCV's 8-bit hue scale where hue is degrees/2
// and lies in [0, 180).
const (
	LightBlueMin = 90.0
	DarkBlueMin  = 110.0
	DarkBlueMax  = 130.0
)

// MinCropSize is the smallest side accepted. Smaller crops make the
// central-half window too small to be meaningful.
const MinCropSize = 4

// ErrInvalidCrop is returned for crops that cannot be classified.
var ErrInvalidCrop = errors.New("invalid crop")

// Stats are the HSV means measured over the central half of a crop.
// Saturation is reported for diagnostics only; it does not affect the class.
type Stats struct {
	MeanHue        float64
	MeanSaturation float64
}

// Classify converts a BGR crop to HSV, averages the hue over the central
// half of the image and maps it to a Class.
func Classify(crop gocv.Mat) (Class, error) {
	stats, err := Measure(crop)
	if err != nil {
		return Other, err
	}
	return ClassifyHue(stats.MeanHue), nil
}

// ClassifyHue maps a mean hue (OpenCV 8-bit scale) to a Class.
func ClassifyHue(h float64) Class {
	if h > LightBlueMin && h < DarkBlueMin {
		return LightBlue
	}
	if h >= DarkBlueMin && h < DarkBlueMax {
		return DarkBlue
	}
	return Other
}

// Measure returns the HSV means over rows [h/4, 3h/4) and columns
// [w/4, 3w/4) of a BGR crop.
func Measure(crop gocv.Mat) (Stats, error) {
	if err := validate(crop); err != nil {
		return Stats{}, err
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(crop, &hsv, gocv.ColorBGRToHSV)

	center := hsv.Region(CenterRect(hsv.Cols(), hsv.Rows()))
	defer center.Close()

	mean := center.Mean()
	return Stats{
		MeanHue:        mean.Val1,
		MeanSaturation: mean.Val2,
	}, nil
}

// CenterRect returns the central 50% window of a w×h image.
func CenterRect(w, h int) image.Rectangle {
	return image.Rect(w/4, h/4, 3*w/4, 3*h/4)
}

func validate(crop gocv.Mat) error {
	if crop.Empty() {
		return fmt.Errorf("%w: empty image", ErrInvalidCrop)
	}
	if crop.Channels() != 3 || crop.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: want 8-bit BGR, got %d channels (type %v)", ErrInvalidCrop, crop.Channels(), crop.Type())
	}
	if crop.Rows() < MinCropSize || crop.Cols() < MinCropSize {
		return fmt.Errorf("%w: %dx%d is smaller than %dx%d", ErrInvalidCrop, crop.Cols(), crop.Rows(), MinCropSize, MinCropSize)
	}
	return nil
}
