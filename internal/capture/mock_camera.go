package capture

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera replays a fixed sequence of frames. It hands out clones, so
// the frames stay owned by the caller unless built with NewMockCameraFromImages.
type MockCamera struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu     sync.Mutex
	frames []*gocv.Mat
	owned  bool
	loop   bool
	next   int
	reads  int
	opens  int
	isOpen bool
}

var _ Camera = (*MockCamera)(nil)

// NewMockCamera replays frames in order, wrapping around when loop is set.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{frames: frames, loop: loop}
}

// NewMockCameraFromImages converts imgs to BGR frames. Release them with
// Release.
func NewMockCameraFromImages(imgs []image.Image, loop bool) (*MockCamera, error) {
	c := &MockCamera{loop: loop, owned: true}
	for i, img := range imgs {
		m, err := gocv.ImageToMatRGB(img)
		if err != nil {
			c.Release()
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		c.frames = append(c.frames, &m)
	}
	return c, nil
}

// Release frees frames the camera converted itself.
func (c *MockCamera) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owned {
		return
	}
	for _, f := range c.frames {
		f.Close()
	}
	c.frames = nil
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return c.OpenErr
	}
	c.opens++
	c.isOpen = true
	c.next = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOpen = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return nil, ErrCameraNotOpen
	}
	if len(c.frames) == 0 || (c.next >= len(c.frames) && !c.loop) {
		return nil, fmt.Errorf("mock camera: %w", ErrNoFrame)
	}

	frame := c.frames[c.next%len(c.frames)].Clone()
	c.next++
	c.reads++
	return &frame, nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

// Reads returns how many frames have been handed out.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Opens returns how many times Open succeeded.
func (c *MockCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}
