package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, interval time.Duration) *Scheduler {
	t.Helper()
	s, err := New(Config{Interval: interval, StopTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadInterval(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestJobRunsPeriodically(t *testing.T) {
	s := newTestScheduler(t, 20*time.Millisecond)

	var runs atomic.Int32
	if err := s.AddFlushJob("flush", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected at least 2 runs, got %d", runs.Load())
	}

	s.RequestStop()
	if !s.AwaitIdle(5 * time.Second) {
		t.Fatal("scheduler did not settle")
	}
}

func TestJobErrorsDoNotStopSchedule(t *testing.T) {
	s := newTestScheduler(t, 20*time.Millisecond)

	var runs atomic.Int32
	_ = s.AddFlushJob("failing", func(context.Context) error {
		runs.Add(1)
		return errors.New("remote down")
	})
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("expected repeated runs despite errors, got %d", runs.Load())
	}

	s.RequestStop()
	s.AwaitIdle(5 * time.Second)
}

func TestDuplicateJobName(t *testing.T) {
	s := newTestScheduler(t, time.Hour)
	noop := func(context.Context) error { return nil }
	if err := s.AddFlushJob("flush", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFlushJob("flush", noop); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if jobs := s.ListJobs(); len(jobs) != 1 || jobs[0].Name != "flush" {
		t.Errorf("unexpected jobs: %+v", jobs)
	}
}

func TestAwaitIdleTimesOutOnHungJob(t *testing.T) {
	s := newTestScheduler(t, 10*time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool
	_ = s.AddFlushJob("hung", func(context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-release
		return nil
	})
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	s.RequestStop()
	if s.AwaitIdle(50 * time.Millisecond) {
		t.Fatal("expected AwaitIdle to time out while job is hung")
	}

	close(release)
	if !s.AwaitIdle(5 * time.Second) {
		t.Fatal("expected scheduler to settle after job released")
	}
}

func TestRequestStopIdempotent(t *testing.T) {
	s := newTestScheduler(t, time.Hour)
	s.Start()
	s.RequestStop()
	s.RequestStop()
	if !s.AwaitIdle(5 * time.Second) {
		t.Fatal("idle scheduler should settle")
	}
	if err := s.AddFlushJob("late", func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestAwaitIdleWithoutStop(t *testing.T) {
	s := newTestScheduler(t, time.Hour)
	if s.AwaitIdle(10 * time.Millisecond) {
		t.Fatal("AwaitIdle without RequestStop should not report idle")
	}
}

func TestRequestStopCancelsRunningJob(t *testing.T) {
	s := newTestScheduler(t, 10*time.Millisecond)

	started := make(chan struct{})
	var once atomic.Bool
	var cancelled atomic.Bool
	_ = s.AddFlushJob("flush", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	s.RequestStop()
	if !s.AwaitIdle(2 * time.Second) {
		t.Fatal("job should return once its context is cancelled")
	}
	if !cancelled.Load() {
		t.Error("job context was not cancelled")
	}
}
