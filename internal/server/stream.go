package server

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/bsort/internal/capture"
)

const (
	streamBoundary = "frame"
	streamInterval = 66 * time.Millisecond
)

// StreamHandler serves an MJPEG preview of the conveyor camera, overlaid
// with how much the scene changed since the previous frame.
type StreamHandler struct {
	camera   capture.Camera
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler with the given camera.
func NewStreamHandler(camera capture.Camera) *StreamHandler {
	return &StreamHandler{camera: camera, interval: streamInterval}
}

// ServeHTTP writes one multipart JPEG part per tick until the client
// goes away or the camera runs out of frames.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.camera.IsOpen() {
		if err := h.camera.Open(); err != nil {
			slog.Warn("Stream camera unavailable", "error", err)
			http.Error(w, "Camera unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(streamBoundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	meter := capture.NewChangeMeter()
	defer meter.Close()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, err := h.camera.ReadFrame()
		if err != nil {
			slog.Debug("Stream frame skipped", "error", err)
			continue
		}
		data, err := previewJPEG(frame, meter)
		frame.Close()
		if err != nil {
			continue
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(data))},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func previewJPEG(frame *gocv.Mat, meter *capture.ChangeMeter) ([]byte, error) {
	if pct, ok := meter.Measure(frame); ok {
		gocv.PutText(frame, fmt.Sprintf("change %.2f%%", pct), image.Pt(10, 24),
			gocv.FontHersheySimplex, 0.6, color.RGBA{G: 255, A: 255}, 2)
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
