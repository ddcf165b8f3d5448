package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ---------- Mock ----------

func TestMock_CaptureFrameIsDecodableJPEG(t *testing.T) {
	m := NewMock()
	data, err := m.CaptureFrame(context.Background(), 406, 304)
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 406 || b.Dy() != 304 {
		t.Errorf("got %dx%d, want 406x304", b.Dx(), b.Dy())
	}
}

func TestMock_CaptureStillWritesFile(t *testing.T) {
	m := NewMock()
	path := filepath.Join(t.TempDir(), "still.jpg")

	if err := m.CaptureStill(context.Background(), path, StillParams{}); err != nil {
		t.Fatalf("CaptureStill: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Native mock resolution is double the preview.
	b := img.Bounds()
	if b.Dx() != 812 || b.Dy() != 608 {
		t.Errorf("got %dx%d, want 812x608", b.Dx(), b.Dy())
	}
}

func TestMock_CaptureStillHonorsRequestedSize(t *testing.T) {
	m := NewMock()
	path := filepath.Join(t.TempDir(), "still.jpg")

	err := m.CaptureStill(context.Background(), path, StillParams{Width: 100, Height: 80})
	if err != nil {
		t.Fatalf("CaptureStill: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 80 {
		t.Errorf("got %dx%d, want 100x80", cfg.Width, cfg.Height)
	}
}

// ---------- Rpicam ----------

func TestRpicam_DefaultsCommand(t *testing.T) {
	r := NewRpicam("", t.TempDir())
	if r.command != "rpicam-still" {
		t.Errorf("got command %q, want rpicam-still", r.command)
	}
}

func TestRpicam_CaptureStillFailsWithoutOutputFile(t *testing.T) {
	// "true" exits zero but writes nothing, so the output check fires.
	r := NewRpicam("true", t.TempDir())
	path := filepath.Join(t.TempDir(), "still.jpg")

	err := r.CaptureStill(context.Background(), path, StillParams{Timeout: time.Second})
	if !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("want ErrCaptureFailed, got: %v", err)
	}
}

func TestRpicam_CommandFailureIsCaptureFailed(t *testing.T) {
	r := NewRpicam("false", t.TempDir())
	path := filepath.Join(t.TempDir(), "still.jpg")

	err := r.CaptureStill(context.Background(), path, StillParams{Timeout: time.Second})
	if !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("want ErrCaptureFailed, got: %v", err)
	}
}

func TestRpicam_MissingCommandIsCaptureFailed(t *testing.T) {
	r := NewRpicam("definitely-not-a-real-command-xyz", t.TempDir())
	_, err := r.CaptureFrame(context.Background(), 406, 304)
	if !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("want ErrCaptureFailed, got: %v", err)
	}
}
