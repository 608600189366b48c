package gpio

import (
	"errors"
	"testing"
)

func TestLevel_String(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("String() = %q/%q, want HIGH/LOW", High.String(), Low.String())
	}
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(true) = %T, want *MockDriver", d)
	}
}

func TestMockDriver_ReadBack(t *testing.T) {
	m := NewMockDriver()
	if lvl, _ := m.ReadPin(24); lvl != Low {
		t.Errorf("unwritten pin = %v, want LOW", lvl)
	}
	m.WritePin(24, High)
	if lvl, _ := m.ReadPin(24); lvl != High {
		t.Errorf("pin 24 = %v, want HIGH", lvl)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMockDriver_ZeroValue(t *testing.T) {
	var m MockDriver
	if err := m.WritePin(5, High); err != nil {
		t.Fatalf("WritePin on zero value: %v", err)
	}
	if lvl, _ := m.ReadPin(5); lvl != High {
		t.Errorf("pin 5 = %v, want HIGH", lvl)
	}
}

func TestRecordingDriver_Pulses(t *testing.T) {
	d := NewRecordingDriver()
	d.SetupPin(17, Output)
	for _, lvl := range []Level{Low, High, Low, High, High, Low} {
		d.WritePin(17, lvl)
	}
	d.WritePin(27, High)

	if got := d.Pulses(17); got != 2 {
		t.Errorf("Pulses(17) = %d, want 2", got)
	}
	if got := len(d.ForPin(27)); got != 1 {
		t.Errorf("ForPin(27) has %d transitions, want 1", got)
	}
	if d.Setups[17] != Output {
		t.Errorf("pin 17 mode = %v, want Output", d.Setups[17])
	}
	if lvl, _ := d.ReadPin(17); lvl != Low {
		t.Errorf("ReadPin(17) = %v, want last written LOW", lvl)
	}
}

func TestRecordingDriver_FailWrites(t *testing.T) {
	d := NewRecordingDriver()
	d.FailWrites = errors.New("line busy")
	if err := d.WritePin(17, High); err == nil {
		t.Fatal("expected error")
	}
	if len(d.Transitions) != 0 {
		t.Error("failed write must not be recorded")
	}
}

func TestRecordingDriver_Close(t *testing.T) {
	d := NewRecordingDriver()
	if d.Closed() {
		t.Fatal("new driver reports closed")
	}
	d.Close()
	if !d.Closed() {
		t.Error("Closed() = false after Close")
	}
}
