package gpio

import (
	"fmt"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

type rpiLine struct {
	pin  rpio.Pin
	mode PinMode
}

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	lines map[int]*rpiLine
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
		lines: make(map[int]*rpiLine),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.lines[pin] = &rpiLine{pin: p, mode: mode}
	return nil
}

// WritePin drives an output line. Lines that were never set up, or were set
// up as inputs, are switched to output first.
func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, ok := r.lines[pin]
	if !ok || l.mode != Output {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		l = r.lines[pin]
	}

	if level == High {
		l.pin.High()
	} else {
		l.pin.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	l, ok := r.lines[pin]
	if !ok {
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		l = r.lines[pin]
	}

	if l.pin.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close pulls every output low (which puts the stepper drivers to sleep),
// returns all lines to input and unmaps GPIO memory.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	for pin, l := range r.lines {
		if l.mode == Output {
			l.pin.Low()
		}
		debug.Verbose("Resetting pin %d to input", pin)
		l.pin.Input()
	}

	return rpio.Close()
}
