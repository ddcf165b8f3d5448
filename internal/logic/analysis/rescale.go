package analysis

import (
	"fmt"
	"image"

	"github.com/srosendal/rpi-uv/internal/debug"
)

// Rescale maps a region defined against the preview resolution onto a
// captured image resolution. Each field is scaled independently by the
// axis ratio (captureW/previewW, captureH/previewH), truncated toward
// zero, then the rectangle is clipped to the image bounds.
// A region that is empty after clipping fails with ErrInvalidROI.
func Rescale(r ROI, previewW, previewH, captureW, captureH int) (image.Rectangle, error) {
	if previewW <= 0 || previewH <= 0 || captureW <= 0 || captureH <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: non-positive resolution %dx%d -> %dx%d",
			ErrInvalidROI, previewW, previewH, captureW, captureH)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: roi %d has non-positive size %dx%d",
			ErrInvalidROI, r.ID, r.Width, r.Height)
	}

	sx := float64(captureW) / float64(previewW)
	sy := float64(captureH) / float64(previewH)

	x := int(float64(r.X) * sx)
	y := int(float64(r.Y) * sy)
	w := int(float64(r.Width) * sx)
	h := int(float64(r.Height) * sy)

	scaled := image.Rect(x, y, x+w, y+h)
	clipped := scaled.Intersect(image.Rect(0, 0, captureW, captureH))
	if clipped.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: roi %d empty after clipping to %dx%d",
			ErrInvalidROI, r.ID, captureW, captureH)
	}

	debug.ROI(r.ID, r.Rect().String(), clipped.String())
	return clipped, nil
}
