// Package tracking implements the heliostat tracking engine: the operating
// mode state machine and the dual-cadence sun following algorithm.
package tracking

import (
	"time"

	"github.com/cjeanneret/HelioGo/internal/calibration"
	"github.com/cjeanneret/HelioGo/internal/clock"
	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/hw/stepper"
	"github.com/cjeanneret/HelioGo/internal/logic/ephemeris"
	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
	"github.com/cjeanneret/HelioGo/internal/logic/motion"
)

// DeadBand is the tolerance, in microsteps, inside which no correction is
// issued.
const DeadBand = 2

const (
	DefaultRefreshInterval = 60 * time.Second
	DefaultStepInterval    = 2 * time.Millisecond
)

// Mode is the operating mode.
type Mode int

const (
	Idle Mode = iota
	Manual
	Tracking
)

func (m Mode) String() string {
	switch m {
	case Manual:
		return "manual"
	case Tracking:
		return "tracking"
	default:
		return "idle"
	}
}

// Target is the most recently computed sun position.
type Target struct {
	AzimuthDeg   float64
	ElevationDeg float64
	ComputedAt   time.Time
}

// Config holds the two tracking cadences.
type Config struct {
	RefreshInterval time.Duration // sun position refresh (slow cadence)
	StepInterval    time.Duration // step decision (fast cadence)
}

// Recorder observes engine events (metrics).
type Recorder interface {
	ObserveMode(mode Mode)
	ObserveRefresh(target Target, belowHorizon bool)
	ObserveClockUnready()
}

// Engine owns the operating mode, the calibration in use and the sun
// target, and drives the motion controller. It is not safe for concurrent
// use: every call must come from the control loop.
type Engine struct {
	motion   *motion.Controller
	clock    clock.Source
	sun      ephemeris.Provider
	cal      calibration.Calibration
	recorder Recorder

	mode         Mode
	target       Target
	hasTarget    bool
	belowHorizon bool

	refresh *RateLimiter
	step    *RateLimiter
}

// NewEngine creates an idle engine. Zero intervals in cfg select the
// defaults.
func NewEngine(m *motion.Controller, clk clock.Source, sun ephemeris.Provider, cal calibration.Calibration, cfg Config) *Engine {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = DefaultStepInterval
	}
	clk.SetOffsets(cal.GMTOffsetSec, cal.DSTOffsetSec)
	return &Engine{
		motion:  m,
		clock:   clk,
		sun:     sun,
		cal:     cal,
		mode:    Idle,
		refresh: NewRateLimiter(cfg.RefreshInterval),
		step:    NewRateLimiter(cfg.StepInterval),
	}
}

// SetRecorder installs an event observer (may be nil).
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
	if r != nil {
		r.ObserveMode(e.mode)
	}
}

// Mode returns the current operating mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Motion returns the motion controller driven by the engine.
func (e *Engine) Motion() *motion.Controller {
	return e.motion
}

// Calibration returns the calibration in use.
func (e *Engine) Calibration() calibration.Calibration {
	return e.cal
}

// SetCalibration replaces the calibration in use and reconfigures the
// local time zone of the clock. While tracking, the next Update refreshes
// the sun position for the new site.
func (e *Engine) SetCalibration(c calibration.Calibration) {
	e.cal = c
	e.clock.SetOffsets(c.GMTOffsetSec, c.DSTOffsetSec)
	if e.mode == Tracking {
		e.refresh.Force()
	}
}

// ResyncClock asks the clock for a new measurement when it supports one.
func (e *Engine) ResyncClock() {
	if r, ok := e.clock.(clock.Resyncer); ok {
		r.Resync()
	}
}

// Target returns the current sun target, if one was computed.
func (e *Engine) Target() (Target, bool) {
	return e.target, e.hasTarget
}

// Suppressed reports whether stepping is held because the sun is below
// the horizon.
func (e *Engine) Suppressed() bool {
	return e.belowHorizon
}

// EnterManual switches to manual jog mode.
func (e *Engine) EnterManual() {
	e.setMode(Manual)
}

// EnterIdle stops both axes and switches to idle.
func (e *Engine) EnterIdle() {
	e.motion.StopAll()
	e.setMode(Idle)
}

// EnterTracking stops both axes, drops the previous target and switches to
// tracking. The next Update refreshes the sun position immediately.
func (e *Engine) EnterTracking() {
	e.motion.StopAll()
	e.hasTarget = false
	e.belowHorizon = false
	e.refresh.Force()
	e.setMode(Tracking)
}

func (e *Engine) setMode(m Mode) {
	if m != e.mode {
		debug.Mode(e.mode.String(), m.String())
	}
	e.mode = m
	if e.recorder != nil {
		e.recorder.ObserveMode(m)
	}
}

// Update runs one tracking iteration at monotonic time now. It does nothing
// unless tracking is active and setup has been completed. The sun target
// and the step decision each run on their own cadence, independent of how
// often Update is called.
func (e *Engine) Update(now time.Time) error {
	if e.mode != Tracking || !e.cal.Configured {
		return nil
	}

	if e.refresh.Ready(now) {
		e.refreshTarget()
	}

	if !e.step.Ready(now) || !e.hasTarget || e.belowHorizon {
		return nil
	}
	return e.stepTowardTarget()
}

// refreshTarget recomputes the sun position. An unsynchronized clock is
// not an error: the target is kept and the next slow cycle retries.
func (e *Engine) refreshTarget() {
	utc, ok := e.clock.UTC()
	if !ok {
		debug.Verbose("Clock not synchronized, sun refresh skipped")
		e.ResyncClock()
		if e.recorder != nil {
			e.recorder.ObserveClockUnready()
		}
		return
	}

	az, el := e.sun(utc, e.cal.Latitude, e.cal.Longitude)
	e.target = Target{AzimuthDeg: az, ElevationDeg: el, ComputedAt: utc}
	e.hasTarget = true
	e.belowHorizon = el < 0
	debug.Target(az, el)
	if e.belowHorizon {
		debug.Live("Sun below horizon, stepping suspended")
	}
	if e.recorder != nil {
		e.recorder.ObserveRefresh(e.target, e.belowHorizon)
	}
}

// stepTowardTarget issues at most one pulse per axis, toward the target,
// when the axis is outside the dead band.
func (e *Engine) stepTowardTarget() error {
	tr := e.cal.Transform()
	goal := [2]float64{e.target.AzimuthDeg, e.target.ElevationDeg}

	for _, axis := range geometry.Axes {
		diff := tr.ToMicrosteps(axis, goal[axis]) - e.motion.Microsteps(axis)
		if diff >= -DeadBand && diff <= DeadBand {
			continue
		}
		dir := stepper.Forward
		if diff < 0 {
			dir = stepper.Reverse
		}
		if err := e.motion.PulseOnce(axis, dir); err != nil {
			return err
		}
	}
	return nil
}
