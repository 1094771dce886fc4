package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"aiwatch/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Workers: 2, JobTimeout: time.Second}, logx.Nop())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestOverlapSkip(t *testing.T) {
	s := newTestService(t)

	var running atomic.Int32
	var overlapped atomic.Bool
	block := make(chan struct{})

	err := s.AddInterval("slow", time.Minute, func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer running.Add(-1)
		<-block
		return nil
	})
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	// Fire the job manually through the same enqueue path as cron.
	s.mu.Lock()
	d := s.defs["slow"]
	s.mu.Unlock()

	s.tick(d)
	// Wait until the first run holds the slot.
	deadline := time.After(time.Second)
	for running.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never started")
		case <-time.After(time.Millisecond):
		}
	}

	// Second tick while running: must be skipped, not queued.
	s.tick(d)
	close(block)

	// Drain: wait for the first run to finish and verify no second run.
	for running.Load() != 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if overlapped.Load() {
		t.Fatal("job overlapped itself")
	}
	if running.Load() != 0 {
		t.Fatal("second run executed after skip")
	}
}

func TestUpsertReplacesSchedule(t *testing.T) {
	s := newTestService(t)

	noop := func(ctx context.Context) error { return nil }
	if err := s.AddInterval("job", time.Hour, noop); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if err := s.AddInterval("job", 30*time.Minute, noop); err != nil {
		t.Fatalf("re-AddInterval: %v", err)
	}

	names := s.JobNames()
	if len(names) != 1 || names[0] != "job" {
		t.Fatalf("JobNames = %v", names)
	}
}

func TestRemove(t *testing.T) {
	s := newTestService(t)

	noop := func(ctx context.Context) error { return nil }
	if err := s.AddDaily("daily", "03:00", noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	s.Remove("daily")
	s.Remove("never-existed")

	if names := s.JobNames(); len(names) != 0 {
		t.Fatalf("JobNames after remove = %v", names)
	}
}

func TestAddDailyRejectsBadTime(t *testing.T) {
	s := newTestService(t)
	if err := s.AddDaily("bad", "25:00", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid HH:MM")
	}
}

func TestAddIntervalRejectsNonPositive(t *testing.T) {
	s := newTestService(t)
	if err := s.AddInterval("bad", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := newTestService(t)

	var ran atomic.Int32
	done := make(chan struct{})
	err := s.AddInterval("tick", time.Hour, func(ctx context.Context) error {
		if ran.Add(1) == 1 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.mu.Lock()
	d := s.defs["tick"]
	s.mu.Unlock()
	s.tick(d)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

// A hot reload re-upserts jobs with unchanged specs while cron keeps
// ticking; the closure swap and the tick dispatch must not race.
func TestUpsertSwapsRunUnderTicks(t *testing.T) {
	s := newTestService(t)

	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}
	if err := s.AddInterval("reload", time.Minute, job); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.mu.Lock()
	d := s.defs["reload"]
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Same interval, so upsert takes the swap-in-place branch.
		for i := 0; i < 200; i++ {
			if err := s.AddInterval("reload", time.Minute, job); err != nil {
				t.Errorf("re-AddInterval: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		s.tick(d)
	}
	<-done

	deadline := time.After(time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick executed during the swap storm")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSnapshotTracksRuns(t *testing.T) {
	s := newTestService(t)

	jobErr := make(chan error, 1)
	jobErr <- nil
	done := make(chan struct{}, 2)
	err := s.AddInterval("job", time.Hour, func(ctx context.Context) error {
		defer func() { done <- struct{}{} }()
		select {
		case e := <-jobErr:
			return e
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.mu.Lock()
	d := s.defs["job"]
	s.mu.Unlock()

	s.tick(d)
	<-done

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Name != "job" {
		t.Fatalf("Snapshot = %+v", snap)
	}
	if snap[0].Runs != 1 || snap[0].LastErr != "" || snap[0].LastRun.IsZero() {
		t.Fatalf("status after success = %+v", snap[0])
	}

	jobErr <- context.DeadlineExceeded
	s.tick(d)
	<-done

	snap = s.Snapshot()
	if snap[0].Runs != 2 || snap[0].LastErr == "" {
		t.Fatalf("status after failure = %+v", snap[0])
	}
}

func TestStopDrainsInFlight(t *testing.T) {
	s := New(Config{Workers: 1, JobTimeout: time.Second}, logx.Nop())
	s.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	if err := s.AddInterval("slow", time.Hour, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.mu.Lock()
	d := s.defs["slow"]
	s.mu.Unlock()
	s.tick(d)

	<-started
	s.Stop()
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight job finished")
	}
}
