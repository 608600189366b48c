package control

import (
	"context"
	"errors"
	"time"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/logic/tracking"
)

const (
	DefaultOuterInterval = time.Millisecond
	DefaultPollInterval  = 200 * time.Microsecond

	queueSize = 16
)

// ErrStopped is returned by Submit once the loop has exited.
var ErrStopped = errors.New("control loop stopped")

// LoopConfig sets the loop cadences.
type LoopConfig struct {
	// OuterInterval is the minimum time between two engine updates. It
	// must not exceed the engine's fast cadence.
	OuterInterval time.Duration
	// PollInterval is the sleep between iterations.
	PollInterval time.Duration
}

// Reply is the outcome of one submitted message.
type Reply struct {
	Body []byte
	OK   bool
}

type request struct {
	text  string
	reply chan Reply
}

// Loop is the single thread of control. Transport goroutines hand their
// messages to Submit; only Run touches the engine.
type Loop struct {
	dispatcher *Dispatcher
	engine     *tracking.Engine
	cfg        LoopConfig

	requests chan request
	done     chan struct{}

	lastUpdate time.Time
	updated    bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewLoop creates a loop over the dispatcher's engine. Zero intervals in
// cfg select the defaults.
func NewLoop(d *Dispatcher, cfg LoopConfig) *Loop {
	if cfg.OuterInterval <= 0 {
		cfg.OuterInterval = DefaultOuterInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Loop{
		dispatcher: d,
		engine:     d.engine,
		cfg:        cfg,
		requests:   make(chan request, queueSize),
		done:       make(chan struct{}),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Run polls until ctx is cancelled. On exit both axes are stopped and the
// engine is left idle.
func (l *Loop) Run(ctx context.Context) error {
	debug.Live("Control loop started (outer %v, poll %v)", l.cfg.OuterInterval, l.cfg.PollInterval)
	defer close(l.done)
	defer l.engine.EnterIdle()

	for {
		select {
		case <-ctx.Done():
			debug.Live("Control loop stopping")
			return ctx.Err()
		default:
		}

		l.Step(l.now())
		l.sleep(l.cfg.PollInterval)
	}
}

// Step runs one iteration at monotonic time now: queued commands first,
// then the jog tick, then a throttled engine update.
func (l *Loop) Step(now time.Time) {
	l.drain()

	m := l.engine.Motion()
	if err := m.Tick(now); err != nil {
		debug.Error(err)
	}

	if l.updated && now.Sub(l.lastUpdate) < l.cfg.OuterInterval {
		return
	}
	l.lastUpdate = now
	l.updated = true
	if err := l.engine.Update(now); err != nil {
		debug.Error(err)
	}
}

func (l *Loop) drain() {
	for {
		select {
		case req := <-l.requests:
			body, ok := l.dispatcher.HandleText(req.text)
			req.reply <- Reply{Body: body, OK: ok}
		default:
			return
		}
	}
}

// Submit queues one raw message and waits until the loop has executed
// it. The reply body is only meaningful when OK is true.
func (l *Loop) Submit(ctx context.Context, text string) (Reply, error) {
	req := request{text: text, reply: make(chan Reply, 1)}

	select {
	case l.requests <- req:
	case <-l.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-l.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
