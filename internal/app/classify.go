package app

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/bsort/internal/color"
	"github.com/ayusman/bsort/internal/imageio"
)

// ClassifyResult is the colour label of a single cap image.
type ClassifyResult struct {
	Class          color.Class `json:"-"`
	Label          string      `json:"label"`
	ClassID        int         `json:"class_id"`
	MeanHue        float64     `json:"mean_hue"`
	MeanSaturation float64     `json:"mean_saturation"`
	Width          int         `json:"width"`
	Height         int         `json:"height"`
}

// Classify labels an image file that shows a single cap.
func (a *App) Classify(path string) (*ClassifyResult, error) {
	m, err := imageio.Load(path)
	if err != nil {
		m.Close()
		return nil, err
	}
	defer m.Close()
	return classifyMat(m)
}

// ClassifyBytes labels an encoded image held in memory.
func (a *App) ClassifyBytes(data []byte) (*ClassifyResult, error) {
	m, err := imageio.Decode(data)
	if err != nil {
		m.Close()
		return nil, err
	}
	defer m.Close()
	return classifyMat(m)
}

func classifyMat(m gocv.Mat) (*ClassifyResult, error) {
	stats, err := color.Measure(m)
	if err != nil {
		return nil, err
	}
	c := color.ClassifyHue(stats.MeanHue)
	return &ClassifyResult{
		Class:          c,
		Label:          c.String(),
		ClassID:        int(c),
		MeanHue:        stats.MeanHue,
		MeanSaturation: stats.MeanSaturation,
		Width:          m.Cols(),
		Height:         m.Rows(),
	}, nil
}
