package capture

import (
	"context"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Frame differencing constants
const (
	// BlurSize is the Gaussian kernel used to suppress sensor noise.
	BlurSize = 21
	// DiffThreshold is the per-pixel grey level change that counts.
	DiffThreshold = 25
)

// ChangeMeter measures how much of the scene changed between consecutive
// frames. It is used to wait for caps on the belt to come to rest.
type ChangeMeter struct {
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

// NewChangeMeter returns a meter with no baseline frame.
func NewChangeMeter() *ChangeMeter {
	return &ChangeMeter{prevGray: gocv.NewMat()}
}

// Measure returns the percentage of pixels that changed against the
// previous frame. The first frame only sets the baseline; ok is false
// until a comparison was possible.
func (m *ChangeMeter) Measure(frame *gocv.Mat) (percent float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return 0, false
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: BlurSize, Y: BlurSize}, 0, 0, gocv.BorderDefault)

	if !m.initialized || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return 0, false
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(thresh)
	percent = float64(changed) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)
	return percent, true
}

// Close releases the baseline frame.
func (m *ChangeMeter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prevGray.Close()
	m.prevGray = gocv.NewMat()
	m.initialized = false
}

// GrabOptions control how a still frame is taken.
type GrabOptions struct {
	// Warmup frames are read and discarded while exposure settles.
	Warmup int
	// MaxFrames bounds how many frames are inspected after warmup.
	MaxFrames int
	// StillPercent is the largest change, in percent of pixels, for a
	// frame to count as still. Zero accepts the first comparable frame.
	StillPercent float64
}

// DefaultGrabOptions returns the options used by `infer --camera`.
func DefaultGrabOptions() GrabOptions {
	return GrabOptions{
		Warmup:       5,
		MaxFrames:    30,
		StillPercent: 1.0,
	}
}

// Grab opens cam if needed and returns the first frame whose change
// against its predecessor is at most StillPercent. If the scene never
// settles within MaxFrames the last frame read is returned. The caller
// must close the returned Mat.
func Grab(ctx context.Context, cam Camera, opts GrabOptions) (*gocv.Mat, error) {
	if !cam.IsOpen() {
		if err := cam.Open(); err != nil {
			return nil, err
		}
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 1
	}

	for i := 0; i < opts.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := cam.ReadFrame()
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	meter := NewChangeMeter()
	defer meter.Close()

	var last *gocv.Mat
	for i := 0; i < opts.MaxFrames; i++ {
		if err := ctx.Err(); err != nil {
			closeFrame(last)
			return nil, err
		}

		f, err := cam.ReadFrame()
		if err != nil {
			if last != nil {
				return last, nil
			}
			return nil, err
		}
		closeFrame(last)
		last = f

		if percent, ok := meter.Measure(f); ok && percent <= opts.StillPercent {
			return f, nil
		}
	}

	if last == nil {
		return nil, ErrNoFrame
	}
	return last, nil
}

func closeFrame(f *gocv.Mat) {
	if f != nil {
		f.Close()
	}
}
