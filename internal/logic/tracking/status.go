package tracking

import "github.com/cjeanneret/HelioGo/internal/logic/geometry"

// UnknownTime is reported while the clock is not synchronized.
const UnknownTime = "unknown"

// Status is a point-in-time snapshot of the engine for status replies.
type Status struct {
	Tracking  bool
	SetupDone bool
	SunAz     float64
	SunEl     float64
	MirrorAz  float64
	MirrorEl  float64
	Time      string // local HH:MM:SS or UnknownTime
}

// Status builds a snapshot. The sun position is computed now rather than
// taken from the last tracking refresh; the mirror angles are derived from
// the microstep position.
func (e *Engine) Status() Status {
	tr := e.cal.Transform()
	st := Status{
		Tracking:  e.mode == Tracking,
		SetupDone: e.cal.Configured,
		MirrorAz:  tr.ToDegrees(geometry.Azimuth, e.motion.Microsteps(geometry.Azimuth)),
		MirrorEl:  tr.ToDegrees(geometry.Elevation, e.motion.Microsteps(geometry.Elevation)),
		Time:      UnknownTime,
	}
	if utc, ok := e.clock.UTC(); ok {
		st.SunAz, st.SunEl = e.sun(utc, e.cal.Latitude, e.cal.Longitude)
	}
	if local, ok := e.clock.Local(); ok {
		st.Time = local.Format("15:04:05")
	}
	return st
}
