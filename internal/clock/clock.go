// Package clock supplies wall-clock time to the tracker. A source may be
// unsynchronized, in which case time-dependent work is skipped.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/cjeanneret/HelioGo/internal/debug"
)

// minSyncedYear is the earliest year accepted as real time. Boards without
// an RTC boot at the epoch until the OS has synchronized.
const minSyncedYear = 2020

// Source supplies the current time.
type Source interface {
	// UTC returns the current UTC time, or false when not synchronized.
	UTC() (time.Time, bool)
	// Local returns the current time in the configured fixed zone.
	Local() (time.Time, bool)
	// SetOffsets configures the local zone: standard offset plus DST.
	SetOffsets(gmtOffsetSec, dstOffsetSec int)
}

// Resyncer is implemented by sources that can be asked to measure the
// time again. Resync never blocks.
type Resyncer interface {
	Resync()
}

type zone struct {
	mu  sync.RWMutex
	loc *time.Location
}

func (z *zone) SetOffsets(gmtOffsetSec, dstOffsetSec int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.loc = time.FixedZone("local", gmtOffsetSec+dstOffsetSec)
}

func (z *zone) location() *time.Location {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// System trusts the host clock once it reports a plausible year.
type System struct {
	zone
	now func() time.Time
}

// NewSystem returns a Source backed by time.Now.
func NewSystem() *System {
	return &System{now: time.Now}
}

func (s *System) UTC() (time.Time, bool) {
	t := s.now().UTC()
	if t.Year() < minSyncedYear {
		return time.Time{}, false
	}
	return t, true
}

func (s *System) Local() (time.Time, bool) {
	t, ok := s.UTC()
	if !ok {
		return time.Time{}, false
	}
	return t.In(s.location()), true
}

// QueryFunc asks an NTP server for the offset of the local clock.
type QueryFunc func(server string) (time.Duration, error)

// NTP corrects the host clock with an offset measured against an NTP
// server. It reports unsynchronized until a measurement succeeded.
type NTP struct {
	zone
	server string
	query  QueryFunc
	now    func() time.Time

	mu     sync.RWMutex
	offset time.Duration
	synced bool

	wake chan struct{}
}

// NewNTP returns an unsynchronized NTP clock for server.
func NewNTP(server string) *NTP {
	return &NTP{
		server: server,
		query:  queryOffset,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

func queryOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Sync measures the clock offset, retrying up to retries times with wait
// in between. Failure is returned but leaves the clock usable: it stays
// unsynchronized until Run succeeds in the background.
func (n *NTP) Sync(ctx context.Context, retries int, wait time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		err := n.measure()
		if err == nil {
			return nil
		}
		lastErr = err
		debug.Info("Waiting for NTP (%d/%d): %v", attempt, retries, err)

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("ntp sync with %s failed after %d attempts: %w", n.server, retries, lastErr)
}

// Run keeps the offset current until ctx is cancelled. While
// unsynchronized it queries once every retry; once synchronized, once
// every refresh. A Resync request triggers a query immediately.
func (n *NTP) Run(ctx context.Context, retry, refresh time.Duration) {
	for {
		wait := refresh
		if !n.Synced() {
			wait = retry
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-n.wake:
			timer.Stop()
		}
		if err := n.measure(); err != nil {
			debug.Verbose("NTP query failed: %v", err)
		}
	}
}

// Resync asks Run for an immediate query.
func (n *NTP) Resync() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// measure performs one query. A failure keeps any previous offset.
func (n *NTP) measure() error {
	offset, err := n.query(n.server)
	if err != nil {
		return err
	}
	n.mu.Lock()
	first := !n.synced
	n.offset = offset
	n.synced = true
	n.mu.Unlock()
	if first {
		debug.Info("Clock synchronized with %s (offset %v)", n.server, offset)
	} else {
		debug.Verbose("Clock offset refreshed: %v", offset)
	}
	return nil
}

// Synced reports whether an offset has been measured.
func (n *NTP) Synced() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.synced
}

func (n *NTP) UTC() (time.Time, bool) {
	n.mu.RLock()
	offset, synced := n.offset, n.synced
	n.mu.RUnlock()
	if !synced {
		return time.Time{}, false
	}
	return n.now().Add(offset).UTC(), true
}

func (n *NTP) Local() (time.Time, bool) {
	t, ok := n.UTC()
	if !ok {
		return time.Time{}, false
	}
	return t.In(n.location()), true
}

// Fixed is a manually driven clock for tests and simulations.
type Fixed struct {
	zone
	mu     sync.Mutex
	t      time.Time
	synced bool
}

// NewFixed returns a synchronized clock reading t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC(), synced: true}
}

// NewUnsynced returns a clock that is not synchronized yet.
func NewUnsynced() *Fixed {
	return &Fixed{}
}

// Set moves the clock to t and marks it synchronized.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t.UTC()
	f.synced = true
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func (f *Fixed) UTC() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.synced {
		return time.Time{}, false
	}
	return f.t, true
}

func (f *Fixed) Local() (time.Time, bool) {
	t, ok := f.UTC()
	if !ok {
		return time.Time{}, false
	}
	return t.In(f.location()), true
}
