// Package protocol decodes the remote text command vocabulary and encodes
// status replies.
package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cjeanneret/HelioGo/internal/hw/stepper"
	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
)

const setupPrefix = "setup_complete:"

// Command is one decoded remote message. The set of implementations is
// closed: Jog, Stop, GetStatus, StartTrack, StopTrack, SetupComplete,
// ResetSetup and Malformed.
type Command interface {
	command()
	// Name is the vocabulary keyword, used for logs and metrics labels.
	Name() string
}

// Jog starts continuous stepping of one axis in manual mode.
type Jog struct {
	Axis      geometry.Axis
	Direction stepper.Direction
}

// Stop ends continuous stepping of one axis.
type Stop struct {
	Axis geometry.Axis
}

// GetStatus requests a status reply.
type GetStatus struct{}

// StartTrack enters tracking mode.
type StartTrack struct{}

// StopTrack returns to idle.
type StopTrack struct{}

// SetupComplete carries the site parameters entered during setup.
type SetupComplete struct {
	Latitude     float64
	Longitude    float64
	GMTOffsetSec int
	DSTOffsetSec int
}

// ResetSetup clears the configured flag.
type ResetSetup struct{}

// Malformed is any message outside the vocabulary.
type Malformed struct {
	Raw    string
	Reason string
}

func (Jog) command()           {}
func (Stop) command()          {}
func (GetStatus) command()     {}
func (StartTrack) command()    {}
func (StopTrack) command()     {}
func (SetupComplete) command() {}
func (ResetSetup) command()    {}
func (Malformed) command()     {}

func (c Jog) Name() string {
	if c.Direction == stepper.Reverse {
		return axisPrefix(c.Axis) + "_rev"
	}
	return axisPrefix(c.Axis) + "_fwd"
}

func (c Stop) Name() string        { return axisPrefix(c.Axis) + "_stop" }
func (GetStatus) Name() string     { return "get_status" }
func (StartTrack) Name() string    { return "start_track" }
func (StopTrack) Name() string     { return "stop_track" }
func (SetupComplete) Name() string { return "setup_complete" }
func (ResetSetup) Name() string    { return "reset_setup" }
func (Malformed) Name() string     { return "malformed" }

// X drives azimuth, Y drives elevation.
func axisPrefix(a geometry.Axis) string {
	if a == geometry.Elevation {
		return "Y"
	}
	return "X"
}

var simple = map[string]Command{
	"X_fwd":       Jog{Axis: geometry.Azimuth, Direction: stepper.Forward},
	"X_rev":       Jog{Axis: geometry.Azimuth, Direction: stepper.Reverse},
	"X_stop":      Stop{Axis: geometry.Azimuth},
	"Y_fwd":       Jog{Axis: geometry.Elevation, Direction: stepper.Forward},
	"Y_rev":       Jog{Axis: geometry.Elevation, Direction: stepper.Reverse},
	"Y_stop":      Stop{Axis: geometry.Elevation},
	"get_status":  GetStatus{},
	"start_track": StartTrack{},
	"stop_track":  StopTrack{},
	"reset_setup": ResetSetup{},
}

// Parse decodes one message. It never fails: anything it does not
// recognize comes back as Malformed.
func Parse(text string) Command {
	msg := strings.TrimSpace(text)
	if cmd, ok := simple[msg]; ok {
		return cmd
	}
	if strings.HasPrefix(msg, setupPrefix) {
		cmd, err := parseSetup(strings.TrimPrefix(msg, setupPrefix))
		if err != nil {
			return Malformed{Raw: text, Reason: err.Error()}
		}
		return cmd
	}
	return Malformed{Raw: text, Reason: "unknown command"}
}

// parseSetup reads "<lat>,<lon>,<gmtSec>,<dstSec>".
func parseSetup(args string) (SetupComplete, error) {
	fields := strings.Split(args, ",")
	if len(fields) != 4 {
		return SetupComplete{}, fmt.Errorf("setup needs 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	lat, err := parseAngle(fields[0], 90)
	if err != nil {
		return SetupComplete{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := parseAngle(fields[1], 180)
	if err != nil {
		return SetupComplete{}, fmt.Errorf("longitude: %w", err)
	}
	gmt, err := strconv.Atoi(fields[2])
	if err != nil {
		return SetupComplete{}, fmt.Errorf("gmt offset: %w", err)
	}
	dst, err := strconv.Atoi(fields[3])
	if err != nil {
		return SetupComplete{}, fmt.Errorf("dst offset: %w", err)
	}

	return SetupComplete{Latitude: lat, Longitude: lon, GMTOffsetSec: gmt, DSTOffsetSec: dst}, nil
}

func parseAngle(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.Abs(v) > limit {
		return 0, fmt.Errorf("%q out of range ±%g", s, limit)
	}
	return v, nil
}
