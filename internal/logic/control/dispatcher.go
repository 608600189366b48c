// Package control connects the remote command vocabulary to the tracking
// engine and runs the single-threaded polling loop that owns it.
package control

import (
	"github.com/cjeanneret/HelioGo/internal/calibration"
	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/logic/tracking"
	"github.com/cjeanneret/HelioGo/internal/protocol"
)

// CommandRecorder observes every dispatched command (metrics).
type CommandRecorder interface {
	ObserveCommand(name string)
}

// Dispatcher executes decoded commands against the engine. Like the
// engine, it must only be used from the control loop.
type Dispatcher struct {
	engine   *tracking.Engine
	store    calibration.Store
	recorder CommandRecorder
}

func NewDispatcher(e *tracking.Engine, store calibration.Store) *Dispatcher {
	return &Dispatcher{engine: e, store: store}
}

// SetRecorder installs a command observer (may be nil).
func (d *Dispatcher) SetRecorder(r CommandRecorder) {
	d.recorder = r
}

// HandleText parses and executes one raw message.
func (d *Dispatcher) HandleText(text string) ([]byte, bool) {
	debug.Command(text)
	return d.Handle(protocol.Parse(text))
}

// Handle executes exactly one command. It returns the status reply and
// true for the commands that answer, nil and false otherwise.
func (d *Dispatcher) Handle(cmd protocol.Command) ([]byte, bool) {
	if d.recorder != nil {
		d.recorder.ObserveCommand(cmd.Name())
	}

	m := d.engine.Motion()
	switch c := cmd.(type) {
	case protocol.Jog:
		d.engine.EnterManual()
		if err := m.Jog(c.Axis, c.Direction); err != nil {
			debug.Error(err)
		}
		return nil, false

	case protocol.Stop:
		m.SetEnabled(c.Axis, false)
		return nil, false

	case protocol.GetStatus:
		return d.status()

	case protocol.StartTrack:
		d.engine.EnterTracking()
		if !d.engine.Calibration().Configured {
			debug.Live("Tracking requested before setup, waiting for setup_complete")
		}
		return d.status()

	case protocol.StopTrack:
		d.engine.EnterIdle()
		return d.status()

	case protocol.SetupComplete:
		d.completeSetup(c)
		return d.status()

	case protocol.ResetSetup:
		d.resetSetup()
		return d.status()

	case protocol.Malformed:
		debug.Verbose("Dropping malformed command %q: %s", c.Raw, c.Reason)
		return nil, false

	default:
		panic("control: unhandled command type")
	}
}

func (d *Dispatcher) completeSetup(c protocol.SetupComplete) {
	cal := d.engine.Calibration()
	cal.Latitude = c.Latitude
	cal.Longitude = c.Longitude
	cal.GMTOffsetSec = c.GMTOffsetSec
	cal.DSTOffsetSec = c.DSTOffsetSec
	cal.Configured = true

	if err := d.store.Save(cal); err != nil {
		debug.Error(err)
	}
	d.engine.SetCalibration(cal)
	d.engine.ResyncClock()
	debug.Info("Setup complete: lat=%.4f lon=%.4f gmt=%ds dst=%ds",
		cal.Latitude, cal.Longitude, cal.GMTOffsetSec, cal.DSTOffsetSec)
}

// resetSetup clears the configured flag only. Site and gear values are
// kept so a new setup starts from them.
func (d *Dispatcher) resetSetup() {
	if err := d.store.ClearConfigured(); err != nil {
		debug.Error(err)
	}
	cal := d.engine.Calibration()
	cal.Configured = false
	d.engine.SetCalibration(cal)
	d.engine.EnterIdle()
	debug.Info("Setup reset")
}

func (d *Dispatcher) status() ([]byte, bool) {
	body, err := protocol.EncodeStatus(d.engine.Status())
	if err != nil {
		debug.Error(err)
		return nil, false
	}
	return body, true
}
