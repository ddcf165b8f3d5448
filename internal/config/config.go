package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srosendal/rpi-uv/internal/logic/analysis"
)

// regionCount is the fixed number of measurement regions on a strip.
const regionCount = 4

// StreamConfig holds the continuous preview settings.
type StreamConfig struct {
	WidthPx         int `yaml:"width_px"`          // preview width (e.g. 406)
	HeightPx        int `yaml:"height_px"`         // preview height (e.g. 304)
	FrameIntervalMs int `yaml:"frame_interval_ms"` // fixed preview cadence
}

// CaptureConfig describes the full-resolution still capture.
type CaptureConfig struct {
	Command   string `yaml:"command"`   // e.g. "rpicam-still" or "libcamera-still"
	WidthPx   int    `yaml:"width_px"`  // 0 = native resolution
	HeightPx  int    `yaml:"height_px"` // 0 = native resolution
	TimeoutMs int    `yaml:"timeout_ms"`
	Mock      bool   `yaml:"mock"` // synthetic camera (dev/test off-Pi)
}

// SequenceConfig holds the multi-shot capture run parameters.
type SequenceConfig struct {
	NumPhotos      int    `yaml:"num_photos"`       // shots per run (1-5)
	StartupDelayMs int    `yaml:"startup_delay_ms"` // settle time before shot 1
	CaptureDelayMs int    `yaml:"capture_delay_ms"` // inter-shot delay
	PhotosDir      string `yaml:"photos_dir"`       // local session folders
}

// AnalysisConfig selects the measurement mode and HSV thresholds.
type AnalysisConfig struct {
	Mode string             `yaml:"mode"` // "hsv" or "luminosity"
	HSV  analysis.HSVBounds `yaml:"hsv"`
}

// StorageConfig describes persistence targets.
type StorageConfig struct {
	RemovableRoots []string `yaml:"removable_roots"` // mount roots probed for USB drives
	FallbackDir    string   `yaml:"fallback_dir"`    // "" = ~/rpi_uv_photos_backup
	Subdir         string   `yaml:"subdir"`          // directory created on removable volumes
	DBPath         string   `yaml:"db_path"`         // session registry, "" = ~/.rpi-uv/sessions.db
}

// IlluminationConfig drives the UV LED PWM channel.
type IlluminationConfig struct {
	Pin         int  `yaml:"pin"`          // BCM pin (hardware PWM: 12, 13, 18, 19)
	FrequencyHz int  `yaml:"frequency_hz"` // PWM frequency
	DutyCycle   *int `yaml:"duty_cycle"`   // initial duty cycle (0-100); nil = default, explicit 0 = LED off
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Stream       StreamConfig       `yaml:"stream"`
	Capture      CaptureConfig      `yaml:"capture"`
	Sequence     SequenceConfig     `yaml:"sequence"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Storage      StorageConfig      `yaml:"storage"`
	Illumination IlluminationConfig `yaml:"illumination"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
	Rois         []analysis.ROI     `yaml:"rois"`
}

// Load reads a YAML file and returns the configuration.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration back to disk. Used by the UI editor
// to persist region and sequence edits.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyDefaults() error {
	if c.Stream.WidthPx <= 0 {
		c.Stream.WidthPx = 406
	}
	if c.Stream.HeightPx <= 0 {
		c.Stream.HeightPx = 304
	}
	if c.Stream.FrameIntervalMs <= 0 {
		c.Stream.FrameIntervalMs = 500
	}

	if c.Capture.Command == "" {
		c.Capture.Command = "rpicam-still"
	}
	if c.Capture.TimeoutMs <= 0 {
		c.Capture.TimeoutMs = 2000
	}

	if c.Sequence.NumPhotos == 0 {
		c.Sequence.NumPhotos = 2
	}
	if c.Sequence.StartupDelayMs <= 0 {
		c.Sequence.StartupDelayMs = 1000
	}
	if c.Sequence.CaptureDelayMs <= 0 {
		c.Sequence.CaptureDelayMs = 1000
	}
	if c.Sequence.PhotosDir == "" {
		c.Sequence.PhotosDir = "photos"
	}

	if c.Analysis.Mode == "" {
		c.Analysis.Mode = string(analysis.ModeHSV)
	}
	zero := analysis.HSVBounds{}
	if c.Analysis.HSV == zero {
		c.Analysis.HSV = analysis.HSVBounds{
			Lower: [3]int{0, 50, 50},
			Upper: [3]int{179, 255, 255},
		}
	}

	if len(c.Storage.RemovableRoots) == 0 {
		c.Storage.RemovableRoots = []string{"/media", "/mnt"}
	}
	if c.Storage.FallbackDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.Storage.FallbackDir = filepath.Join(home, "rpi_uv_photos_backup")
	}
	if c.Storage.Subdir == "" {
		c.Storage.Subdir = "test_strip_images"
	}
	if c.Storage.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.Storage.DBPath = filepath.Join(home, ".rpi-uv", "sessions.db")
	}

	if c.Illumination.Pin <= 0 {
		c.Illumination.Pin = 12
	}
	if c.Illumination.FrequencyHz <= 0 {
		c.Illumination.FrequencyHz = 1000
	}
	if c.Illumination.DutyCycle == nil {
		duty := 60
		c.Illumination.DutyCycle = &duty
	}

	if len(c.Rois) == 0 {
		c.Rois = []analysis.ROI{
			{ID: 1, X: 117, Y: 89, Width: 141, Height: 19},
			{ID: 2, X: 117, Y: 136, Width: 141, Height: 19},
			{ID: 3, X: 117, Y: 183, Width: 141, Height: 19},
			{ID: 4, X: 117, Y: 230, Width: 141, Height: 19},
		}
	}

	return nil
}

func (c *Config) validate() error {
	if c.Sequence.NumPhotos < 1 || c.Sequence.NumPhotos > 5 {
		return fmt.Errorf("num_photos must be between 1 and 5, got %d", c.Sequence.NumPhotos)
	}
	if duty := *c.Illumination.DutyCycle; duty < 0 || duty > 100 {
		return fmt.Errorf("duty_cycle must be between 0 and 100, got %d", duty)
	}
	switch analysis.Mode(c.Analysis.Mode) {
	case analysis.ModeHSV, analysis.ModeLuminosity:
	default:
		return fmt.Errorf("analysis mode must be %q or %q, got %q",
			analysis.ModeHSV, analysis.ModeLuminosity, c.Analysis.Mode)
	}
	if err := c.Analysis.HSV.Validate(); err != nil {
		return err
	}
	if len(c.Rois) != regionCount {
		return fmt.Errorf("exactly %d rois are required, got %d", regionCount, len(c.Rois))
	}
	seen := make(map[int]bool, regionCount)
	for _, roi := range c.Rois {
		if roi.ID < 1 || roi.ID > regionCount {
			return fmt.Errorf("roi id must be 1-%d, got %d", regionCount, roi.ID)
		}
		if seen[roi.ID] {
			return fmt.Errorf("duplicate roi id %d", roi.ID)
		}
		seen[roi.ID] = true
		if err := roi.Validate(c.Stream.WidthPx, c.Stream.HeightPx); err != nil {
			return err
		}
	}
	return nil
}

// FrameInterval returns the preview cadence.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Stream.FrameIntervalMs) * time.Millisecond
}

// CaptureTimeout returns the still-capture timeout.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutMs) * time.Millisecond
}

// StartupDelay returns the settle time before the first shot.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Sequence.StartupDelayMs) * time.Millisecond
}

// CaptureDelay returns the inter-shot delay.
func (c *Config) CaptureDelay() time.Duration {
	return time.Duration(c.Sequence.CaptureDelayMs) * time.Millisecond
}

// AnalysisMode returns the configured measurement mode.
func (c *Config) AnalysisMode() analysis.Mode {
	return analysis.Mode(c.Analysis.Mode)
}

// IlluminationDuty returns the configured LED duty cycle. Always set
// after Load.
func (c *Config) IlluminationDuty() int {
	return *c.Illumination.DutyCycle
}

// SetIlluminationDuty replaces the configured LED duty cycle.
func (c *Config) SetIlluminationDuty(duty int) {
	c.Illumination.DutyCycle = &duty
}
