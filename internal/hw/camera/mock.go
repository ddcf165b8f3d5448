package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"github.com/srosendal/rpi-uv/internal/debug"
)

// Default mock resolutions: preview-shaped by default, doubled for
// stills so the rescale path is exercised off-Pi too.
const (
	mockStillWidth  = 812
	mockStillHeight = 608
)

// Mock is a Camera that renders deterministic synthetic test strip
// images. Used for development on PC and in tests, like the mock GPIO
// driver.
type Mock struct{}

// NewMock creates a synthetic camera backend.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) CaptureStill(ctx context.Context, path string, p StillParams) error {
	w, h := p.Width, p.Height
	if w <= 0 || h <= 0 {
		w, h = mockStillWidth, mockStillHeight
	}
	data, err := m.render(w, h)
	if err != nil {
		return err
	}
	debug.Verbose("Mock capture %dx%d -> %s", w, h, path)
	return os.WriteFile(path, data, 0o644)
}

func (m *Mock) CaptureFrame(ctx context.Context, width, height int) ([]byte, error) {
	return m.render(width, height)
}

// render draws a gray vertical gradient with four saturated red bands
// at the default region rows, so both analysis modes return non-zero
// signal out of the box.
func (m *Mock) render(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	bandRows := [4]float64{0.29, 0.45, 0.60, 0.76}
	bandHeight := h / 16

	for y := 0; y < h; y++ {
		gray := uint8(255 * y / h)
		px := color.RGBA{gray, gray, gray, 255}
		for _, frac := range bandRows {
			top := int(frac * float64(h))
			if y >= top && y < top+bandHeight {
				px = color.RGBA{200, 30, 30, 255}
				break
			}
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, px)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
