package geometry

import "fmt"

// Axis is one of the two mirror degrees of freedom.
type Axis int

const (
	Azimuth Axis = iota
	Elevation
)

// Axes lists both axes in a fixed order, for iteration.
var Axes = [...]Axis{Azimuth, Elevation}

func (a Axis) String() string {
	switch a {
	case Azimuth:
		return "azimuth"
	case Elevation:
		return "elevation"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Valid reports whether a names a real axis.
func (a Axis) Valid() bool {
	return a == Azimuth || a == Elevation
}

// MustValid panics on an invalid axis. An out-of-range axis is a caller bug,
// never a runtime condition.
func (a Axis) MustValid() {
	if !a.Valid() {
		panic(fmt.Sprintf("geometry: invalid %v", a))
	}
}
