package gpio

import (
	"fmt"

	"github.com/srosendal/rpi-uv/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmCycleLen is the PWM cycle length in clock ticks. With a duty range
// of 0-100 this gives 1% resolution.
const pwmCycleLen = 100

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins map[int]rpio.Pin
	pwm  map[int]bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
		pwm:  make(map[int]bool),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

// SetupPWM switches the pin into hardware PWM mode at freqHz.
// Only works on the Pi's hardware PWM pins (GPIO12, 13, 18, 19).
func (r *RPiDriver) SetupPWM(pin int, freqHz int) error {
	debug.GPIO("SetupPWM", pin, freqHz)

	p := rpio.Pin(pin)
	r.pins[pin] = p
	p.Mode(rpio.Pwm)
	// The PWM clock runs the full cycle, so the clock frequency is
	// cycle length times the target output frequency.
	p.Freq(freqHz * pwmCycleLen)
	r.pwm[pin] = true

	return nil
}

func (r *RPiDriver) SetPWMDuty(pin int, dutyPercent int) error {
	debug.PWM(pin, dutyPercent)

	if !r.pwm[pin] {
		return fmt.Errorf("pin %d is not configured for PWM", pin)
	}
	p := r.pins[pin]
	p.DutyCycle(uint32(dutyPercent), pwmCycleLen)

	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state); PWM pins are zeroed first.
	for pin, p := range r.pins {
		if r.pwm[pin] {
			debug.Verbose("Zeroing PWM on pin %d", pin)
			p.DutyCycle(0, pwmCycleLen)
		}
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
