package geometry

import "math"

// Gear trains of the reference build: 200 steps/rev motors at 1/16
// microstepping, azimuth 17:144, elevation 21:64.
const (
	DefaultStepsPerRev   = 200
	DefaultMicrostepping = 16

	AzimuthMotorTeeth   = 17
	AzimuthAxisTeeth    = 144
	ElevationMotorTeeth = 21
	ElevationAxisTeeth  = 64
)

// MicrostepsPerDegree returns how many microsteps turn the axis by one
// degree. motorTeeth or axisTeeth <= 0 means direct drive.
func MicrostepsPerDegree(stepsPerRev, microstepping, motorTeeth, axisTeeth int) float64 {
	perRev := float64(stepsPerRev * microstepping)
	if motorTeeth > 0 && axisTeeth > 0 {
		perRev = perRev * float64(axisTeeth) / float64(motorTeeth)
	}
	return perRev / 360.0
}

// DefaultMicrostepsPerDegree returns the compiled-in gear constant for axis.
func DefaultMicrostepsPerDegree(axis Axis) float64 {
	axis.MustValid()
	if axis == Azimuth {
		return MicrostepsPerDegree(DefaultStepsPerRev, DefaultMicrostepping, AzimuthMotorTeeth, AzimuthAxisTeeth)
	}
	return MicrostepsPerDegree(DefaultStepsPerRev, DefaultMicrostepping, ElevationMotorTeeth, ElevationAxisTeeth)
}

// DegreesToMicrosteps converts an angle to the nearest whole microstep.
func DegreesToMicrosteps(deg, perDegree float64) int64 {
	return int64(math.Round(deg * perDegree))
}

// MicrostepsToDegrees converts a microstep count back to degrees.
// perDegree must be non-zero; that is checked when calibration is entered.
func MicrostepsToDegrees(steps int64, perDegree float64) float64 {
	return float64(steps) / perDegree
}

// Transform converts between degrees and microsteps for both axes.
type Transform struct {
	perDegree [2]float64
}

// NewTransform builds a transform from per-axis microsteps/degree.
func NewTransform(azimuthPerDegree, elevationPerDegree float64) Transform {
	return Transform{perDegree: [2]float64{azimuthPerDegree, elevationPerDegree}}
}

// PerDegree returns the microsteps/degree for axis.
func (t Transform) PerDegree(axis Axis) float64 {
	axis.MustValid()
	return t.perDegree[axis]
}

// ToMicrosteps converts an axis angle to microsteps.
func (t Transform) ToMicrosteps(axis Axis, deg float64) int64 {
	return DegreesToMicrosteps(deg, t.PerDegree(axis))
}

// ToDegrees converts an axis microstep count to degrees.
func (t Transform) ToDegrees(axis Axis, steps int64) float64 {
	return MicrostepsToDegrees(steps, t.PerDegree(axis))
}
