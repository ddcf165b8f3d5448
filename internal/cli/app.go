// Package cli implements the rpi-uv subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/srosendal/rpi-uv/internal/config"
	"github.com/srosendal/rpi-uv/internal/debug"
	"github.com/srosendal/rpi-uv/internal/hw/camera"
	"github.com/srosendal/rpi-uv/internal/hw/gpio"
	"github.com/srosendal/rpi-uv/internal/hw/led"
	"github.com/srosendal/rpi-uv/internal/logic/analysis"
	"github.com/srosendal/rpi-uv/internal/logic/capture"
	"github.com/srosendal/rpi-uv/internal/logic/storage"
	"github.com/srosendal/rpi-uv/internal/store"
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "config.yaml"

// App bundles the wired application components shared by the
// subcommands. Build it with buildApp and always Close it.
type App struct {
	Cfg       *config.Config
	CfgPath   string
	GPIO      gpio.Driver
	Led       *led.Controller // nil when PWM setup failed
	Manager   *camera.Manager
	Engine    *analysis.Engine
	Writer    *storage.Writer
	Registry  *store.Store // nil when the session db could not be opened
	Sequencer *capture.Sequencer
}

// buildApp loads the configuration and wires the component graph.
// Illumination and the session registry are optional: their setup
// failures are logged and leave the corresponding field nil, so the
// device still captures and analyzes without them.
func buildApp(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	debug.Init(cfg.Defaults.DebugLevel)

	driver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("gpio init: %w", err)
	}

	app := &App{Cfg: cfg, CfgPath: cfgPath, GPIO: driver}

	ctrl, err := led.New(driver, cfg.Illumination.Pin, cfg.Illumination.FrequencyHz, cfg.IlluminationDuty())
	if err != nil {
		debug.Info("illumination disabled: %v", err)
	} else {
		app.Led = ctrl
	}

	var cam camera.Camera
	if cfg.Capture.Mock {
		cam = camera.NewMock()
	} else {
		cam = camera.NewRpicam(cfg.Capture.Command, os.TempDir())
	}
	app.Manager = camera.NewManager(cam, cfg.Stream.WidthPx, cfg.Stream.HeightPx, cfg.FrameInterval())

	engine, err := analysis.NewEngine(cfg.AnalysisMode(), cfg.Analysis.HSV, cfg.Stream.WidthPx, cfg.Stream.HeightPx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("analysis init: %w", err)
	}
	app.Engine = engine

	app.Writer = storage.NewWriter(cfg.Storage.RemovableRoots, cfg.Storage.FallbackDir, cfg.Storage.Subdir)

	registry, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		debug.Info("session registry disabled: %v", err)
	} else {
		app.Registry = registry
	}

	app.Sequencer = capture.NewSequencer(app.Manager, app.Engine, app.Writer, app.Registry, cfg.Rois, cfg.Sequence.PhotosDir)
	return app, nil
}

// Close releases hardware and database resources. The LED duty cycle
// is forced to zero before the GPIO driver is torn down.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.StopStreaming()
	}
	if a.Led != nil {
		if err := a.Led.Close(); err != nil {
			debug.Error(err)
		}
	}
	if a.GPIO != nil {
		if err := a.GPIO.Close(); err != nil {
			debug.Error(err)
		}
	}
	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil {
			debug.Error(err)
		}
	}
}

// sequenceParams derives the capture run parameters from the current
// configuration, with an optional photo count override (0 keeps the
// configured value).
func sequenceParams(cfg *config.Config, numPhotos int) capture.Params {
	if numPhotos <= 0 {
		numPhotos = cfg.Sequence.NumPhotos
	}
	return capture.Params{
		NumPhotos:    numPhotos,
		StartupDelay: cfg.StartupDelay(),
		CaptureDelay: cfg.CaptureDelay(),
		Width:        cfg.Capture.WidthPx,
		Height:       cfg.Capture.HeightPx,
		Timeout:      cfg.CaptureTimeout(),
	}
}
