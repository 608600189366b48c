package stepper

import (
	"time"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/hw/gpio"
)

// DefaultPulseWidth is the STEP high time required by A4988/DRV8825 drivers.
const DefaultPulseWidth = 2 * time.Microsecond

// Direction selects which way the next pulses turn the axis.
type Direction int

const (
	Forward Direction = iota // DIR line HIGH
	Reverse                  // DIR line LOW
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Sign returns +1 for Forward and -1 for Reverse.
func (d Direction) Sign() int64 {
	if d == Reverse {
		return -1
	}
	return 1
}

// Config holds the hardware configuration for one STEP/DIR channel.
type Config struct {
	StepPin    int
	DirPin     int
	InvertDir  bool          // swap DIR levels when the motor is wired the other way round
	PulseWidth time.Duration // STEP high time. 0 = DefaultPulseWidth.
}

// Stepper drives a single STEP/DIR stepper driver channel. It never blocks
// longer than the STEP pulse width.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	width time.Duration
	dir   Direction
	hold  func(time.Duration)
}

// NewStepper sets up the STEP and DIR lines and latches Forward.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	width := cfg.PulseWidth
	if width <= 0 {
		width = DefaultPulseWidth
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		width: width,
		dir:   Forward,
		hold:  busyWait,
	}
	_ = g.WritePin(cfg.StepPin, gpio.Low)
	_ = g.WritePin(cfg.DirPin, s.dirLevel(Forward))
	return s
}

// SetDirection latches the direction for subsequent pulses. The DIR line is
// only written when the direction changes.
func (s *Stepper) SetDirection(dir Direction) error {
	if dir == s.dir {
		return nil
	}
	if err := s.gpio.WritePin(s.cfg.DirPin, s.dirLevel(dir)); err != nil {
		return err
	}
	s.dir = dir
	return nil
}

// Direction returns the latched direction.
func (s *Stepper) Direction() Direction {
	return s.dir
}

// Pulse emits one STEP pulse: assert, hold for the pulse width, deassert.
func (s *Stepper) Pulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	s.hold(s.width)
	return s.gpio.WritePin(s.cfg.StepPin, gpio.Low)
}

func (s *Stepper) dirLevel(dir Direction) gpio.Level {
	level := gpio.Level(dir == Forward)
	if s.cfg.InvertDir {
		level = !level
	}
	return level
}

// busyWait spins instead of sleeping: the scheduler cannot honour
// microsecond sleeps.
func busyWait(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

// DriverLine is the shared SLEEP/RESET line of the stepper drivers. It is
// active HIGH: HIGH keeps both drivers awake.
type DriverLine struct {
	gpio gpio.Driver
	pin  int
}

// NewDriverLine sets up pin as the driver SLEEP/RESET line.
// pin = 0 means the line is hard-wired and not controlled.
func NewDriverLine(g gpio.Driver, pin int) *DriverLine {
	if pin > 0 {
		_ = g.SetupPin(pin, gpio.Output)
	}
	return &DriverLine{gpio: g, pin: pin}
}

// Wake drives the line HIGH. Motors hold position.
func (l *DriverLine) Wake() error {
	if l.pin <= 0 {
		return nil
	}
	debug.Verbose("Stepper drivers awake (pin %d)", l.pin)
	return l.gpio.WritePin(l.pin, gpio.High)
}

// Sleep drives the line LOW. Motors freewheel, no holding torque.
func (l *DriverLine) Sleep() error {
	if l.pin <= 0 {
		return nil
	}
	debug.Verbose("Stepper drivers asleep (pin %d)", l.pin)
	return l.gpio.WritePin(l.pin, gpio.Low)
}
