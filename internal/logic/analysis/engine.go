package analysis

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/srosendal/rpi-uv/internal/debug"
)

// Mode selects how a region is reduced to a scalar.
type Mode string

const (
	// ModeHSV counts pixels whose HSV channels all fall within the
	// configured inclusive bounds.
	ModeHSV Mode = "hsv"
	// ModeLuminosity averages the grayscale value over the region.
	ModeLuminosity Mode = "luminosity"
)

// HSVBounds holds the inclusive per-channel thresholds on the OpenCV
// scale (H 0-179, S 0-255, V 0-255). No hue wraparound: each channel
// is a single [lower,upper] interval and the three tests are ANDed.
type HSVBounds struct {
	Lower [3]int `yaml:"lower" json:"lower"`
	Upper [3]int `yaml:"upper" json:"upper"`
}

// Validate checks the bounds are ordered and on-scale.
func (b HSVBounds) Validate() error {
	limits := [3]int{179, 255, 255}
	names := [3]string{"h", "s", "v"}
	for i := 0; i < 3; i++ {
		if b.Lower[i] < 0 || b.Upper[i] > limits[i] {
			return fmt.Errorf("hsv %s bounds must be within [0,%d], got [%d,%d]",
				names[i], limits[i], b.Lower[i], b.Upper[i])
		}
		if b.Lower[i] > b.Upper[i] {
			return fmt.Errorf("hsv %s lower bound %d exceeds upper bound %d",
				names[i], b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

// Engine measures color signal in regions of captured images, after
// rescaling the regions from preview to capture resolution.
type Engine struct {
	mode     Mode
	bounds   HSVBounds
	previewW int
	previewH int
}

// NewEngine creates an engine for the given measurement mode.
// previewW/previewH is the canvas the regions are defined against.
func NewEngine(mode Mode, bounds HSVBounds, previewW, previewH int) (*Engine, error) {
	switch mode {
	case ModeHSV, ModeLuminosity:
	default:
		return nil, fmt.Errorf("unknown analysis mode: %q", mode)
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if previewW <= 0 || previewH <= 0 {
		return nil, fmt.Errorf("non-positive preview canvas %dx%d", previewW, previewH)
	}
	return &Engine{mode: mode, bounds: bounds, previewW: previewW, previewH: previewH}, nil
}

// Measure reduces one region of one captured image to a scalar:
// a thresholded pixel count in HSV mode, a rounded mean grayscale
// value in luminosity mode.
func (e *Engine) Measure(img image.Image, roi ROI) (int, error) {
	b := img.Bounds()
	rect, err := Rescale(roi, e.previewW, e.previewH, b.Dx(), b.Dy())
	if err != nil {
		return 0, err
	}
	// Rescale works in (0,0)-based coordinates; shift by the image origin.
	rect = rect.Add(b.Min)

	switch e.mode {
	case ModeLuminosity:
		return e.luminosity(img, rect), nil
	default:
		return e.countHSV(img, rect), nil
	}
}

// MeasureAll measures every region of one image, in region order.
func (e *Engine) MeasureAll(img image.Image, rois []ROI) ([]int, error) {
	out := make([]int, 0, len(rois))
	for _, roi := range rois {
		v, err := e.Measure(img, roi)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// AnalyzeFiles measures every region of every photo in a session
// directory. Rows of the returned matrix correspond to photos in
// capture order, columns to regions in the given order.
func (e *Engine) AnalyzeFiles(dir string, photos []string, rois []ROI) ([][]int, error) {
	all := make([][]int, 0, len(photos))
	for i, name := range photos {
		path := filepath.Join(dir, filepath.Base(name))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: photo not found: %s", ErrAnalysisFailed, name)
		}
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", ErrAnalysisFailed, name, err)
		}
		debug.Verbose("Analyzing photo %d/%d: %s", i+1, len(photos), name)
		row, err := e.MeasureAll(img, rois)
		if err != nil {
			return nil, err
		}
		debug.Verbose("Results for %s: %v", name, row)
		all = append(all, row)
	}
	return all, nil
}

func (e *Engine) countHSV(img image.Image, rect image.Rectangle) int {
	lo, hi := e.bounds.Lower, e.bounds.Upper
	count := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			h, s, v := RGBToHSV(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			if int(h) >= lo[0] && int(h) <= hi[0] &&
				int(s) >= lo[1] && int(s) <= hi[1] &&
				int(v) >= lo[2] && int(v) <= hi[2] {
				count++
			}
		}
	}
	return count
}

func (e *Engine) luminosity(img image.Image, rect image.Rectangle) int {
	var sum float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	area := rect.Dx() * rect.Dy()
	return int(math.Floor(sum/float64(area) + 0.5))
}
