package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/HelioGo/internal/calibration"
	"github.com/cjeanneret/HelioGo/internal/clock"
	"github.com/cjeanneret/HelioGo/internal/hw/gpio"
	"github.com/cjeanneret/HelioGo/internal/hw/stepper"
	"github.com/cjeanneret/HelioGo/internal/logic/ephemeris"
	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
	"github.com/cjeanneret/HelioGo/internal/logic/motion"
	"github.com/cjeanneret/HelioGo/internal/logic/tracking"
	"github.com/cjeanneret/HelioGo/internal/protocol"
)

const (
	azStep = 13
	elStep = 18
)

var t0 = time.Date(2024, 3, 20, 11, 0, 0, 0, time.UTC)

type status struct {
	Tracking  bool    `json:"tracking"`
	SetupDone bool    `json:"setupDone"`
	SunAz     float64 `json:"sunAz"`
	SunEl     float64 `json:"sunEl"`
	MirrorAz  float64 `json:"mirrorAz"`
	MirrorEl  float64 `json:"mirrorEl"`
	Time      string  `json:"time"`
}

func decode(t *testing.T, body []byte) status {
	t.Helper()
	var reply struct {
		Status status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &reply))
	return reply.Status
}

type harness struct {
	dispatcher *Dispatcher
	engine     *tracking.Engine
	motion     *motion.Controller
	store      calibration.Store
	drv        *gpio.RecordingDriver
	clock      *clock.Fixed
}

func newHarness(t *testing.T, store calibration.Store) *harness {
	t.Helper()
	drv := gpio.NewRecordingDriver()
	m := motion.NewController(
		stepper.NewStepper(drv, stepper.Config{StepPin: azStep, DirPin: 12}),
		stepper.NewStepper(drv, stepper.Config{StepPin: elStep, DirPin: 17}),
		time.Millisecond,
	)
	drv.Reset()
	clk := clock.NewFixed(t0)
	e := tracking.NewEngine(m, clk, ephemeris.Fixed(180, 40), store.Load(), tracking.Config{})
	return &harness{
		dispatcher: NewDispatcher(e, store),
		engine:     e,
		motion:     m,
		store:      store,
		drv:        drv,
		clock:      clk,
	}
}

func (h *harness) send(t *testing.T, text string) ([]byte, bool) {
	t.Helper()
	return h.dispatcher.HandleText(text)
}

func TestDispatcher_SetupCompleteThenStatus(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())

	body, ok := h.send(t, "setup_complete:48.2,16.3,3600,3600")
	require.True(t, ok)
	assert.True(t, decode(t, body).SetupDone)

	body, ok = h.send(t, "get_status")
	require.True(t, ok)
	st := decode(t, body)
	assert.True(t, st.SetupDone)
	assert.Equal(t, "13:00:00", st.Time, "clock offsets follow the new setup")

	saved := h.store.Load()
	assert.True(t, saved.Configured)
	assert.Equal(t, 48.2, saved.Latitude)
	assert.Equal(t, 16.3, saved.Longitude)
	assert.Equal(t, 3600, saved.GMTOffsetSec)
	assert.Equal(t, 3600, saved.DSTOffsetSec)
	assert.Equal(t, saved, h.engine.Calibration())
}

func TestDispatcher_SetupKeepsGearCalibration(t *testing.T) {
	store := calibration.NewMemoryStore()
	cal := calibration.Defaults()
	cal.MicrostepsPerDegAz = 270.6
	require.NoError(t, store.Save(cal))
	require.NoError(t, store.ClearConfigured())
	h := newHarness(t, store)

	h.send(t, "setup_complete:1,2,0,0")
	assert.Equal(t, 270.6, h.store.Load().MicrostepsPerDegAz)
}

func TestDispatcher_ResetSetupKeepsNumericFields(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	h.send(t, "setup_complete:10.5,-20.25,-18000,0")
	h.send(t, "start_track")

	body, ok := h.send(t, "reset_setup")
	require.True(t, ok)
	st := decode(t, body)
	assert.False(t, st.SetupDone)
	assert.False(t, st.Tracking)
	assert.Equal(t, tracking.Idle, h.engine.Mode())

	saved := h.store.Load()
	assert.False(t, saved.Configured)
	assert.Equal(t, 10.5, saved.Latitude)
	assert.Equal(t, -20.25, saved.Longitude)
	assert.Equal(t, -18000, saved.GMTOffsetSec)
	assert.Equal(t, 0, saved.DSTOffsetSec)
}

func TestDispatcher_ReplyRules(t *testing.T) {
	tests := []struct {
		cmd   string
		reply bool
	}{
		{"X_fwd", false},
		{"X_rev", false},
		{"X_stop", false},
		{"Y_fwd", false},
		{"Y_rev", false},
		{"Y_stop", false},
		{"get_status", true},
		{"start_track", true},
		{"stop_track", true},
		{"setup_complete:1,2,3,4", true},
		{"reset_setup", true},
		{"setup_complete:1,2,3", false},
		{"hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			h := newHarness(t, calibration.NewMemoryStore())
			body, ok := h.send(t, tt.cmd)
			assert.Equal(t, tt.reply, ok)
			if tt.reply {
				assert.NotEmpty(t, body)
			} else {
				assert.Nil(t, body)
			}
		})
	}
}

func TestDispatcher_JogEntersManual(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())

	h.send(t, "X_rev")
	assert.Equal(t, tracking.Manual, h.engine.Mode())
	az := h.motion.State(geometry.Azimuth)
	assert.True(t, az.Running)
	assert.Equal(t, stepper.Reverse, az.Direction)
	assert.False(t, h.motion.State(geometry.Elevation).Running)

	h.send(t, "Y_fwd")
	assert.True(t, h.motion.State(geometry.Elevation).Running)

	h.send(t, "X_stop")
	assert.False(t, h.motion.State(geometry.Azimuth).Running)
	assert.True(t, h.motion.State(geometry.Elevation).Running)
	assert.Equal(t, tracking.Manual, h.engine.Mode())
}

func TestDispatcher_JogDuringTrackingLeavesTracking(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	h.send(t, "setup_complete:1,2,3,4")
	h.send(t, "start_track")

	h.send(t, "Y_fwd")
	assert.Equal(t, tracking.Manual, h.engine.Mode())
}

func TestDispatcher_StartTrackStopsJog(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	h.send(t, "X_fwd")
	h.send(t, "Y_rev")

	body, ok := h.send(t, "start_track")
	require.True(t, ok)
	assert.True(t, decode(t, body).Tracking)
	assert.False(t, h.motion.Running())
}

func TestDispatcher_StopTrack(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	h.send(t, "start_track")

	body, _ := h.send(t, "stop_track")
	assert.False(t, decode(t, body).Tracking)
	assert.Equal(t, tracking.Idle, h.engine.Mode())
}

func TestDispatcher_MalformedChangesNothing(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	before := h.store.Load()

	for _, msg := range []string{"setup_complete:a,b,c,d", "setup_complete:1,2", "X_left", ""} {
		_, ok := h.send(t, msg)
		assert.False(t, ok)
	}
	assert.Equal(t, before, h.store.Load())
	assert.Equal(t, tracking.Idle, h.engine.Mode())
	assert.Empty(t, h.drv.Transitions)
}

type failingStore struct {
	calibration.MemoryStore
}

func (f *failingStore) Save(calibration.Calibration) error { return errors.New("disk full") }
func (f *failingStore) ClearConfigured() error             { return errors.New("disk full") }

func TestDispatcher_PersistenceFailureStillApplies(t *testing.T) {
	h := newHarness(t, &failingStore{})

	body, ok := h.send(t, "setup_complete:1,2,3,4")
	require.True(t, ok)
	assert.True(t, decode(t, body).SetupDone)
	assert.True(t, h.engine.Calibration().Configured)
}

type commandLog struct{ names []string }

func (c *commandLog) ObserveCommand(name string) { c.names = append(c.names, name) }

func TestDispatcher_Recorder(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	rec := &commandLog{}
	h.dispatcher.SetRecorder(rec)

	h.send(t, "X_fwd")
	h.send(t, "nope")
	h.dispatcher.Handle(protocol.GetStatus{})

	assert.Equal(t, []string{"X_fwd", "malformed", "get_status"}, rec.names)
}

func TestLoop_StepTicksAndThrottlesUpdate(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	h.send(t, "setup_complete:1,2,3,4")
	h.send(t, "start_track")
	loop := NewLoop(h.dispatcher, LoopConfig{OuterInterval: 5 * time.Millisecond})

	// 10 iterations within one outer interval: one engine update
	now := t0
	for i := 0; i < 10; i++ {
		loop.Step(now)
		now = now.Add(100 * time.Microsecond)
	}
	assert.Equal(t, int64(1), h.motion.Microsteps(geometry.Azimuth))

	loop.Step(t0.Add(5 * time.Millisecond))
	assert.Equal(t, int64(2), h.motion.Microsteps(geometry.Azimuth))
}

func TestLoop_StepRunsJog(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	loop := NewLoop(h.dispatcher, LoopConfig{})
	h.send(t, "X_fwd")

	loop.Step(t0)
	loop.Step(t0.Add(500 * time.Microsecond))
	loop.Step(t0.Add(time.Millisecond))

	assert.Equal(t, 2, h.drv.Pulses(azStep))
	assert.Equal(t, int64(0), h.motion.Microsteps(geometry.Azimuth), "jog does not move the recorded position")
}

func TestLoop_SubmitIsServedByRun(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	loop := NewLoop(h.dispatcher, LoopConfig{PollInterval: 50 * time.Microsecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- loop.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := loop.Submit(context.Background(), "get_status")
			assert.NoError(t, err)
			assert.True(t, reply.OK)
		}()
	}
	wg.Wait()

	reply, err := loop.Submit(context.Background(), "setup_complete:48.2,16.3,3600,3600")
	require.NoError(t, err)
	require.True(t, reply.OK)
	reply, err = loop.Submit(context.Background(), "get_status")
	require.NoError(t, err)
	assert.True(t, decode(t, reply.Body).SetupDone)

	reply, err = loop.Submit(context.Background(), "X_fwd")
	require.NoError(t, err)
	assert.False(t, reply.OK)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.False(t, h.motion.Running(), "loop exit stops the axes")
	assert.Equal(t, tracking.Idle, h.engine.Mode())

	_, err = loop.Submit(context.Background(), "get_status")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestLoop_SubmitHonoursContext(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	loop := NewLoop(h.dispatcher, LoopConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := loop.Submit(ctx, "get_status")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewLoop_Defaults(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	loop := NewLoop(h.dispatcher, LoopConfig{})
	assert.Equal(t, DefaultOuterInterval, loop.cfg.OuterInterval)
	assert.Equal(t, DefaultPollInterval, loop.cfg.PollInterval)
}

// resyncClock is a fixed clock that counts resync requests.
type resyncClock struct {
	*clock.Fixed
	resyncs int
}

func (c *resyncClock) Resync() { c.resyncs++ }

func TestDispatcher_SetupCompleteResyncsClock(t *testing.T) {
	h := newHarness(t, calibration.NewMemoryStore())
	clk := &resyncClock{Fixed: clock.NewUnsynced()}
	e := tracking.NewEngine(h.motion, clk, ephemeris.Fixed(180, 40), calibration.Defaults(), tracking.Config{})
	d := NewDispatcher(e, h.store)

	d.HandleText("setup_complete:48.2,16.3,3600,0")
	assert.Equal(t, 1, clk.resyncs)

	d.HandleText("setup_complete:48.2,16.3") // malformed
	assert.Equal(t, 1, clk.resyncs, "malformed setup leaves the clock alone")
}

func TestDispatcher_SetupWhileTrackingRefreshesTarget(t *testing.T) {
	store := calibration.NewMemoryStore()
	require.NoError(t, store.Save(calibration.Defaults()))
	h := newHarness(t, store)

	var lats []float64
	sun := func(_ time.Time, lat, _ float64) (float64, float64) {
		lats = append(lats, lat)
		return 180, 40
	}
	e := tracking.NewEngine(h.motion, h.clock, sun, store.Load(), tracking.Config{})
	d := NewDispatcher(e, store)

	// status replies query the sun too, so count the calls made by Update
	d.HandleText("start_track")
	before := len(lats)
	require.NoError(t, e.Update(t0))
	require.Len(t, lats, before+1)

	d.HandleText("setup_complete:40.4,-3.7,3600,3600")
	before = len(lats)
	require.NoError(t, e.Update(t0.Add(time.Second)))
	require.Len(t, lats, before+1, "sun refreshed right after setup, not a slow cycle later")
	assert.Equal(t, 40.4, lats[len(lats)-1])
}
