package gpio

// Transition is one recorded line write.
type Transition struct {
	Pin   int
	Level Level
}

// RecordingDriver records every line transition. It lets the motion and
// tracking layers be tested without hardware.
type RecordingDriver struct {
	Setups      map[int]PinMode
	Transitions []Transition
	// FailWrites makes WritePin return this error when set.
	FailWrites error
	closed     bool
}

// NewRecordingDriver returns an empty recording driver.
func NewRecordingDriver() *RecordingDriver {
	return &RecordingDriver{Setups: make(map[int]PinMode)}
}

func (d *RecordingDriver) SetupPin(pin int, mode PinMode) error {
	if d.Setups == nil {
		d.Setups = make(map[int]PinMode)
	}
	d.Setups[pin] = mode
	return nil
}

func (d *RecordingDriver) WritePin(pin int, level Level) error {
	if d.FailWrites != nil {
		return d.FailWrites
	}
	d.Transitions = append(d.Transitions, Transition{Pin: pin, Level: level})
	return nil
}

// ReadPin returns the last level written to pin, or Low.
func (d *RecordingDriver) ReadPin(pin int) (Level, error) {
	for i := len(d.Transitions) - 1; i >= 0; i-- {
		if d.Transitions[i].Pin == pin {
			return d.Transitions[i].Level, nil
		}
	}
	return Low, nil
}

func (d *RecordingDriver) Close() error {
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *RecordingDriver) Closed() bool { return d.closed }

// ForPin returns the transitions recorded on pin, in order.
func (d *RecordingDriver) ForPin(pin int) []Transition {
	var result []Transition
	for _, t := range d.Transitions {
		if t.Pin == pin {
			result = append(result, t)
		}
	}
	return result
}

// Pulses counts rising edges on pin.
func (d *RecordingDriver) Pulses(pin int) int {
	count := 0
	prev := Low
	for _, t := range d.ForPin(pin) {
		if t.Level == High && prev == Low {
			count++
		}
		prev = t.Level
	}
	return count
}

// Reset forgets all recorded transitions.
func (d *RecordingDriver) Reset() {
	d.Transitions = nil
}
