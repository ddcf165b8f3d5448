package camera

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy means the camera is already held by another consumer.
	// Acquisition fails fast; there is no queue.
	ErrBusy = errors.New("camera is busy")

	// ErrCaptureFailed means the native still-capture call failed or
	// timed out.
	ErrCaptureFailed = errors.New("still capture failed")

	// ErrNotStreaming is returned when a preview frame is requested
	// while streaming is off.
	ErrNotStreaming = errors.New("stream not active")
)

// StillParams describes one full-resolution still capture.
// Zero width/height means native camera resolution.
type StillParams struct {
	Width   int
	Height  int
	Timeout time.Duration
}

// Camera is the low-level backend interface, regardless of how the
// device is driven (rpicam utilities, mock, etc.).
type Camera interface {
	// CaptureStill takes a full-resolution photo and writes it to path.
	CaptureStill(ctx context.Context, path string, p StillParams) error

	// CaptureFrame grabs a single low-resolution preview frame and
	// returns it as JPEG bytes.
	CaptureFrame(ctx context.Context, width, height int) ([]byte, error)
}
