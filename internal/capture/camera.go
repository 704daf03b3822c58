// Package capture grabs still frames of the conveyor from a camera or a
// recorded video using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture resolution.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when reading from a source that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrNoFrame is returned when the source produced nothing usable.
	ErrNoFrame = errors.New("no frame available")
)

// Camera is a source of BGR frames.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next BGR frame. The caller must close it.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// Device names a frame source: a local device index, or a video file or
// stream URL.
type Device struct {
	Index int
	Path  string
}

// ParseDevice turns a command-line value into a Device. Integers select a
// local device; anything else is opened as a file or URL.
func ParseDevice(s string) (Device, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Device{}, errors.New("empty camera device")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Device{}, fmt.Errorf("camera index %d is negative", n)
		}
		return Device{Index: n}, nil
	}
	return Device{Path: s}, nil
}

func (d Device) String() string {
	if d.Path != "" {
		return d.Path
	}
	return "camera:" + strconv.Itoa(d.Index)
}

func (d Device) open() (*gocv.VideoCapture, error) {
	if d.Path != "" {
		return gocv.OpenVideoCapture(d.Path)
	}
	return gocv.OpenVideoCapture(d.Index)
}

// VideoCamera reads frames through gocv.VideoCapture.
type VideoCamera struct {
	device Device
	width  int
	height int

	mu      sync.Mutex
	capture *gocv.VideoCapture
}

// NewCamera creates a Camera for dev. Non-positive width or height fall
// back to 640x480. The resolution is only requested from local devices.
func NewCamera(dev Device, width, height int) *VideoCamera {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return &VideoCamera{device: dev, width: width, height: height}
}

// Device returns the source the camera reads from.
func (c *VideoCamera) Device() Device {
	return c.device
}

// Open opens the source. Opening an open camera is a no-op.
func (c *VideoCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	vc, err := c.device.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", c.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open %s: source not available", c.device)
	}
	if c.device.Path == "" {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}

	c.capture = vc
	return nil
}

// Close releases the source. Closing a closed camera returns nil.
func (c *VideoCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

// ReadFrame reads the next frame. A recording that has ended yields
// ErrNoFrame.
func (c *VideoCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	frame := gocv.NewMat()
	if !c.capture.Read(&frame) || frame.Empty() {
		frame.Close()
		return nil, fmt.Errorf("%s: %w", c.device, ErrNoFrame)
	}
	return &frame, nil
}

// IsOpen reports whether the source is open.
func (c *VideoCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
