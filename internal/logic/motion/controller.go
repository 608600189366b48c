package motion

import (
	"fmt"
	"time"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/hw/stepper"
	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
)

// DefaultStepInterval is the minimum time between two jog pulses.
const DefaultStepInterval = 1000 * time.Microsecond

// Pulse sources, for metrics.
const (
	SourceJog   = "jog"
	SourceTrack = "track"
)

// MotorState is the actuation status of one axis.
type MotorState struct {
	Running   bool
	Direction stepper.Direction
	LastPulse time.Time
}

// Position is the authoritative mirror pose in microsteps, per axis.
// Degrees are always derived from it, never stored.
type Position [2]int64

// PulseRecorder is notified after every emitted pulse.
type PulseRecorder interface {
	ObservePulse(axis geometry.Axis, source string, position int64)
}

// Controller generates step pulses for the azimuth and elevation axes.
// It's the layer between the tracking logic and the stepper hardware and
// the only owner of the mirror position.
type Controller struct {
	motors       [2]*stepper.Stepper
	states       [2]MotorState
	pos          Position
	stepInterval time.Duration
	recorder     PulseRecorder
}

// NewController creates a controller. stepInterval <= 0 selects
// DefaultStepInterval.
func NewController(azimuth, elevation *stepper.Stepper, stepInterval time.Duration) *Controller {
	if stepInterval <= 0 {
		stepInterval = DefaultStepInterval
	}
	return &Controller{
		motors:       [2]*stepper.Stepper{azimuth, elevation},
		stepInterval: stepInterval,
	}
}

// SetRecorder installs a pulse observer (may be nil).
func (c *Controller) SetRecorder(r PulseRecorder) {
	c.recorder = r
}

// SetEnabled starts or stops continuous stepping on axis.
func (c *Controller) SetEnabled(axis geometry.Axis, enabled bool) {
	axis.MustValid()
	c.states[axis].Running = enabled
}

// SetDirection latches the continuous-stepping direction of axis.
func (c *Controller) SetDirection(axis geometry.Axis, dir stepper.Direction) error {
	axis.MustValid()
	if err := c.motors[axis].SetDirection(dir); err != nil {
		return fmt.Errorf("set %s direction: %w", axis, err)
	}
	c.states[axis].Direction = dir
	return nil
}

// Jog latches dir and then enables continuous stepping, so the first
// pulse always goes the requested way.
func (c *Controller) Jog(axis geometry.Axis, dir stepper.Direction) error {
	if err := c.SetDirection(axis, dir); err != nil {
		return err
	}
	c.SetEnabled(axis, true)
	return nil
}

// StopAll disables continuous stepping on both axes.
func (c *Controller) StopAll() {
	for _, axis := range geometry.Axes {
		c.states[axis].Running = false
	}
}

// PulseOnce emits exactly one pulse on axis in dir and moves the position
// by one microstep. It does not touch the continuous-stepping state.
func (c *Controller) PulseOnce(axis geometry.Axis, dir stepper.Direction) error {
	axis.MustValid()
	m := c.motors[axis]
	if err := m.SetDirection(dir); err != nil {
		return fmt.Errorf("set %s direction: %w", axis, err)
	}
	if err := m.Pulse(); err != nil {
		return fmt.Errorf("pulse %s: %w", axis, err)
	}
	c.pos[axis] += dir.Sign()
	debug.Pulse(axis.String(), dir.String(), c.pos[axis])
	if c.recorder != nil {
		c.recorder.ObservePulse(axis, SourceTrack, c.pos[axis])
	}
	return nil
}

// Tick emits at most one pulse per running axis whose step interval has
// elapsed. It never waits. Jog pulses do not move the recorded position:
// jogging is how the mirror is brought back onto its reference pose.
func (c *Controller) Tick(now time.Time) error {
	var firstErr error
	for _, axis := range geometry.Axes {
		st := &c.states[axis]
		if !st.Running || now.Sub(st.LastPulse) < c.stepInterval {
			continue
		}
		st.LastPulse = now

		m := c.motors[axis]
		err := m.SetDirection(st.Direction)
		if err == nil {
			err = m.Pulse()
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("jog %s: %w", axis, err)
			}
			continue
		}
		if c.recorder != nil {
			c.recorder.ObservePulse(axis, SourceJog, c.pos[axis])
		}
	}
	return firstErr
}

// State returns the actuation status of axis.
func (c *Controller) State(axis geometry.Axis) MotorState {
	axis.MustValid()
	return c.states[axis]
}

// Running reports whether any axis is stepping continuously.
func (c *Controller) Running() bool {
	return c.states[geometry.Azimuth].Running || c.states[geometry.Elevation].Running
}

// Position returns the current mirror position.
func (c *Controller) Position() Position {
	return c.pos
}

// Microsteps returns the current position of axis.
func (c *Controller) Microsteps(axis geometry.Axis) int64 {
	axis.MustValid()
	return c.pos[axis]
}

// SetPosition overrides the recorded position. The mirror is not moved.
func (c *Controller) SetPosition(p Position) {
	c.pos = p
}

// ResetPosition re-zeroes both axes at the reference pose.
func (c *Controller) ResetPosition() {
	c.pos = Position{}
}
