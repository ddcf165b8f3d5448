// Package led drives the UV illumination LED through a hardware PWM channel.
package led

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srosendal/rpi-uv/internal/debug"
	"github.com/srosendal/rpi-uv/internal/hw/gpio"
)

var (
	// ErrInvalidRange is returned when a duty cycle outside [0,100]
	// is requested. The previous duty cycle is left unchanged.
	ErrInvalidRange = errors.New("duty cycle must be between 0 and 100")

	// ErrHardwareUnavailable indicates the PWM channel could not be
	// initialized. The capture pipeline proceeds without illumination.
	ErrHardwareUnavailable = errors.New("illumination hardware unavailable")
)

// Controller owns the PWM channel for the illumination LED.
// It is an independent failure domain from the camera: a broken or
// absent PWM channel never blocks the capture pipeline.
type Controller struct {
	gpio   gpio.Driver
	pin    int
	freqHz int

	mu   sync.Mutex
	duty int
}

// New configures the PWM channel and applies the initial duty cycle.
// A setup failure is wrapped as ErrHardwareUnavailable; callers log it
// and carry on.
func New(g gpio.Driver, pin, freqHz, initialDuty int) (*Controller, error) {
	if initialDuty < 0 || initialDuty > 100 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRange, initialDuty)
	}

	if err := g.SetupPWM(pin, freqHz); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	c := &Controller{
		gpio:   g,
		pin:    pin,
		freqHz: freqHz,
	}

	if err := c.SetDutyCycle(initialDuty); err != nil {
		return nil, err
	}

	debug.Info("PWM initialized on GPIO%d at %d%% duty cycle (%d Hz)", pin, initialDuty, freqHz)
	return c, nil
}

// SetDutyCycle sets the LED brightness as a percentage (0-100).
// Out-of-range values fail with ErrInvalidRange before touching the
// hardware, so the previous duty cycle stays in effect.
func (c *Controller) SetDutyCycle(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidRange, percent)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gpio.SetPWMDuty(c.pin, percent); err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	c.duty = percent
	debug.Live("PWM duty cycle set to %d%%", percent)
	return nil
}

// DutyCycle returns the current duty cycle.
func (c *Controller) DutyCycle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duty
}

// Close forces the duty cycle to 0 before releasing the channel.
// Mandatory on shutdown so the LED never stays lit.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gpio.SetPWMDuty(c.pin, 0); err != nil {
		return fmt.Errorf("zero PWM on close: %w", err)
	}
	c.duty = 0
	debug.Info("PWM cleaned up")
	return nil
}
