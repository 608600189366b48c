package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSystem_UnsyncedBefore2020(t *testing.T) {
	s := NewSystem()
	s.now = func() time.Time { return time.Unix(60, 0) }

	if _, ok := s.UTC(); ok {
		t.Error("1970 clock should be reported unsynchronized")
	}
	if _, ok := s.Local(); ok {
		t.Error("Local should follow UTC availability")
	}
}

func TestSystem_LocalUsesOffsets(t *testing.T) {
	s := NewSystem()
	s.now = func() time.Time { return time.Date(2024, 6, 21, 10, 0, 0, 0, time.UTC) }
	s.SetOffsets(3600, 3600)

	local, ok := s.Local()
	if !ok {
		t.Fatal("expected synchronized clock")
	}
	if got := local.Format("15:04:05"); got != "12:00:00" {
		t.Errorf("local time = %s, want 12:00:00", got)
	}
	utc, _ := s.UTC()
	if !utc.Equal(local) {
		t.Error("Local and UTC must be the same instant")
	}
}

func TestNTP_UnsyncedUntilSync(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	n.query = func(string) (time.Duration, error) { return 2 * time.Second, nil }
	base := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return base }

	if _, ok := n.UTC(); ok {
		t.Fatal("clock should be unsynchronized before Sync")
	}
	if err := n.Sync(context.Background(), 3, time.Millisecond); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, ok := n.UTC()
	if !ok {
		t.Fatal("clock should be synchronized after Sync")
	}
	if want := base.Add(2 * time.Second); !got.Equal(want) {
		t.Errorf("UTC = %v, want %v", got, want)
	}
}

func TestNTP_SyncRetriesThenFails(t *testing.T) {
	n := NewNTP("ntp.invalid")
	calls := 0
	n.query = func(string) (time.Duration, error) {
		calls++
		return 0, errors.New("timeout")
	}

	err := n.Sync(context.Background(), 4, time.Millisecond)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("queries = %d, want 4", calls)
	}
	if n.Synced() {
		t.Error("failed sync must leave the clock unsynchronized")
	}
}

func TestNTP_SyncSucceedsAfterRetry(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	calls := 0
	n.query = func(string) (time.Duration, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("no route")
		}
		return 0, nil
	}

	if err := n.Sync(context.Background(), 10, time.Millisecond); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if calls != 3 {
		t.Errorf("queries = %d, want 3", calls)
	}
}

func TestNTP_SyncHonoursContext(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	n.query = func(string) (time.Duration, error) { return 0, errors.New("down") }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Sync(ctx, 10, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFixed(t *testing.T) {
	f := NewUnsynced()
	if _, ok := f.UTC(); ok {
		t.Fatal("NewUnsynced should not be synchronized")
	}

	start := time.Date(2024, 6, 21, 11, 0, 0, 0, time.UTC)
	f.Set(start)
	f.Advance(90 * time.Second)
	got, ok := f.UTC()
	if !ok || !got.Equal(start.Add(90*time.Second)) {
		t.Errorf("UTC = %v/%v, want %v", got, ok, start.Add(90*time.Second))
	}

	f.SetOffsets(-18000, 0)
	local, _ := f.Local()
	if local.Format("15:04") != "06:01" {
		t.Errorf("local = %s, want 06:01", local.Format("15:04"))
	}
}

func TestNTP_RunRecoversAfterFailedSync(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	var reachable atomic.Bool
	n.query = func(string) (time.Duration, error) {
		if !reachable.Load() {
			return 0, errors.New("no route to host")
		}
		return time.Second, nil
	}

	if err := n.Sync(context.Background(), 3, 0); err == nil {
		t.Fatal("expected startup sync to fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx, time.Millisecond, time.Hour)

	reachable.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for !n.Synced() {
		if time.Now().After(deadline) {
			t.Fatal("clock never synchronized once the server was reachable")
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := n.UTC(); !ok {
		t.Error("UTC should be ready after background sync")
	}
}

func TestNTP_ResyncQueriesImmediately(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	queried := make(chan struct{}, 4)
	n.query = func(string) (time.Duration, error) {
		queried <- struct{}{}
		return 0, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx, time.Hour, time.Hour)

	n.Resync()
	select {
	case <-queried:
	case <-time.After(2 * time.Second):
		t.Fatal("Resync did not trigger a query")
	}
}

func TestNTP_ResyncNeverBlocks(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	for i := 0; i < 5; i++ {
		n.Resync() // nothing runs: the request is coalesced
	}
}

func TestNTP_FailedRefreshKeepsOffset(t *testing.T) {
	n := NewNTP("pool.ntp.org")
	fail := false
	n.query = func(string) (time.Duration, error) {
		if fail {
			return 0, errors.New("timeout")
		}
		return 3 * time.Second, nil
	}
	base := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return base }

	if err := n.measure(); err != nil {
		t.Fatal(err)
	}
	fail = true
	if err := n.measure(); err == nil {
		t.Fatal("expected error")
	}
	got, ok := n.UTC()
	if !ok || !got.Equal(base.Add(3*time.Second)) {
		t.Errorf("UTC = %v, %v; want previous offset kept", got, ok)
	}
}
