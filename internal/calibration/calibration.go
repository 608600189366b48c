// Package calibration holds the site and gear parameters of the heliostat
// and the contract for persisting them.
package calibration

import (
	"time"

	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
)

// Built-in defaults, used for any value that was never persisted.
const (
	DefaultLatitude     = 48.21
	DefaultLongitude    = 16.37
	DefaultGMTOffsetSec = 3600
	DefaultDSTOffsetSec = 3600
)

// Calibration holds site and mechanical parameters.
//
// Configured gates tracking. Clearing it never erases the numeric fields:
// a reset keeps the previous site and gear values as the starting point of
// the next setup, so the mirror does not need to be re-aligned north.
type Calibration struct {
	Latitude           float64 `yaml:"lat"`
	Longitude          float64 `yaml:"lon"`
	GMTOffsetSec       int     `yaml:"gmt"`
	DSTOffsetSec       int     `yaml:"dst"`
	MicrostepsPerDegAz float64 `yaml:"cal_az"`
	MicrostepsPerDegEl float64 `yaml:"cal_el"`
	Configured         bool    `yaml:"setup"`
}

// Defaults returns the compiled-in calibration.
func Defaults() Calibration {
	return Calibration{
		Latitude:           DefaultLatitude,
		Longitude:          DefaultLongitude,
		GMTOffsetSec:       DefaultGMTOffsetSec,
		DSTOffsetSec:       DefaultDSTOffsetSec,
		MicrostepsPerDegAz: geometry.DefaultMicrostepsPerDegree(geometry.Azimuth),
		MicrostepsPerDegEl: geometry.DefaultMicrostepsPerDegree(geometry.Elevation),
	}
}

// MicrostepsPerDegree returns the gear constant of axis.
func (c Calibration) MicrostepsPerDegree(axis geometry.Axis) float64 {
	axis.MustValid()
	if axis == geometry.Azimuth {
		return c.MicrostepsPerDegAz
	}
	return c.MicrostepsPerDegEl
}

// Transform returns the degree/microstep transform for this calibration.
func (c Calibration) Transform() geometry.Transform {
	return geometry.NewTransform(c.MicrostepsPerDegAz, c.MicrostepsPerDegEl)
}

// Zone returns the fixed local time zone (standard offset plus DST).
func (c Calibration) Zone() *time.Location {
	return time.FixedZone("local", c.GMTOffsetSec+c.DSTOffsetSec)
}

// Store persists calibration. Load never fails: missing values fall back
// to Defaults. Save persists every field with Configured set to true.
// ClearConfigured persists Configured=false and nothing else.
type Store interface {
	Load() Calibration
	Save(c Calibration) error
	ClearConfigured() error
}
