// Package analysis measures color signal inside operator-defined regions
// of captured test strip images.
package analysis

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrInvalidROI flags a degenerate or out-of-bounds region.
	ErrInvalidROI = errors.New("invalid region")

	// ErrAnalysisFailed flags a region that could not be measured after
	// rescaling and clipping, or an unreadable image.
	ErrAnalysisFailed = errors.New("analysis failed")
)

// ROI is a measurement region defined by the rectangle editor against
// the preview resolution. It is consumed read-only here.
type ROI struct {
	ID     int `yaml:"id" json:"id"`
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Validate checks that the region is non-degenerate and fully within
// the preview canvas.
func (r ROI) Validate(canvasW, canvasH int) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: roi %d has non-positive size %dx%d", ErrInvalidROI, r.ID, r.Width, r.Height)
	}
	if r.X < 0 || r.Y < 0 || r.X+r.Width > canvasW || r.Y+r.Height > canvasH {
		return fmt.Errorf("%w: roi %d (%d,%d %dx%d) outside canvas %dx%d",
			ErrInvalidROI, r.ID, r.X, r.Y, r.Width, r.Height, canvasW, canvasH)
	}
	return nil
}

// Rect returns the region as an image.Rectangle in preview coordinates.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}
