package capture

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in      string
		want    Device
		wantErr bool
	}{
		{in: "0", want: Device{Index: 0}},
		{in: " 2 ", want: Device{Index: 2}},
		{in: "belt.mp4", want: Device{Path: "belt.mp4"}},
		{in: "rtsp://10.0.0.5/stream", want: Device{Path: "rtsp://10.0.0.5/stream"}},
		{in: "-1", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDevice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDevice(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDevice_String(t *testing.T) {
	if got := (Device{Index: 1}).String(); got != "camera:1" {
		t.Errorf("String() = %q", got)
	}
	if got := (Device{Path: "belt.mp4"}).String(); got != "belt.mp4" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewCamera_Resolution(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		wantWidth  int
		wantHeight int
	}{
		{name: "explicit", width: 1280, height: 720, wantWidth: 1280, wantHeight: 720},
		{name: "zero", wantWidth: DefaultWidth, wantHeight: DefaultHeight},
		{name: "one side invalid", width: 800, height: -1, wantWidth: DefaultWidth, wantHeight: DefaultHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(Device{}, tt.width, tt.height)
			if cam.width != tt.wantWidth || cam.height != tt.wantHeight {
				t.Errorf("resolution = %dx%d, want %dx%d", cam.width, cam.height, tt.wantWidth, tt.wantHeight)
			}
			if cam.IsOpen() {
				t.Error("new camera reports open")
			}
		})
	}
}

func TestCamera_Device_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(Device{Index: 0}, 0, 0)
	if err := cam.Open(); err != nil {
		t.Skipf("camera not available: %v", err)
	}
	defer cam.Close()

	frame, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	defer frame.Close()
	if frame.Empty() {
		t.Error("ReadFrame() returned an empty frame")
	}
}

func TestCamera_MissingRecording(t *testing.T) {
	cam := NewCamera(Device{Path: filepath.Join(t.TempDir(), "missing.mp4")}, 0, 0)
	if err := cam.Open(); err == nil {
		cam.Close()
		t.Fatal("Open() of a missing recording should fail")
	}
	if cam.IsOpen() {
		t.Error("camera reports open after failed Open()")
	}
}

func TestCamera_NotOpened(t *testing.T) {
	cam := NewCamera(Device{}, 0, 0)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() on a closed camera = %v, want nil", err)
	}
}
