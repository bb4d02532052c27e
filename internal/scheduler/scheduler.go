// Package scheduler runs the periodic flush jobs that push spooled events to
// the remote sender, and exposes the stop/await surface the drain uses.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"eventtracker/internal/logging"
)

// ErrStopped is returned by AddFlushJob once a stop has been requested.
var ErrStopped = errors.New("scheduler stopped")

// DefaultStopTimeout bounds how long gocron waits for running jobs on shutdown.
const DefaultStopTimeout = 15 * time.Second

// JobInfo describes a registered job for external inspection.
type JobInfo struct {
	ID       string
	Name     string
	Interval time.Duration
	LastRun  time.Time // zero if never run
	NextRun  time.Time // zero if not scheduled
}

// Config holds scheduler configuration.
type Config struct {
	// Interval between runs of each flush job.
	Interval time.Duration

	// StopTimeout bounds gocron's own wait for in-flight jobs during
	// shutdown. Zero means DefaultStopTimeout.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Scheduler wraps a gocron scheduler running fixed-interval flush jobs.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	interval  time.Duration
	jobs      map[string]gocron.Job
	logger    *slog.Logger

	// runCtx is handed to every job run and cancelled by RequestStop, so
	// a run in progress can abandon its remaining work.
	runCtx    context.Context
	cancelRun context.CancelFunc

	stopOnce sync.Once
	stopping bool
	stopped  chan struct{} // closed when gocron shutdown returns
	stopErr  error         // valid after stopped is closed
}

// New creates a scheduler. Jobs do not run until Start.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %s", cfg.Interval)
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	s, err := gocron.NewScheduler(gocron.WithStopTimeout(stopTimeout))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Scheduler{
		runCtx:    runCtx,
		cancelRun: cancelRun,
		scheduler: s,
		interval:  cfg.Interval,
		jobs:      make(map[string]gocron.Job),
		logger:    logging.Default(cfg.Logger).With("component", "scheduler"),
		stopped:   make(chan struct{}),
	}, nil
}

// AddFlushJob registers a named job that runs fn every interval. Runs never
// overlap: a tick that fires while fn is still running is skipped.
// Errors returned by fn are logged; they do not stop the schedule.
// The ctx passed to fn is cancelled as soon as RequestStop is called.
func (s *Scheduler) AddFlushJob(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrStopped
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	task := func() {
		start := time.Now()
		if err := fn(s.runCtx); err != nil {
			s.logger.Warn("flush job failed", "name", name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Debug("flush job done", "name", name, "duration", time.Since(start))
	}

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.logger.Info("scheduled job added", "name", name, "interval", s.interval)
	return nil
}

// ListJobs returns info about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:       j.ID().String(),
			Name:     name,
			Interval: s.interval,
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "interval", s.interval)
}

// RequestStop tells the scheduler to stop launching new runs, cancels the
// context of any run in progress and begins waiting for in-flight runs in
// the background. It returns immediately and is safe to call more than once.
func (s *Scheduler) RequestStop() {
	s.stopOnce.Do(func() {
		s.cancelRun()
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		go func() {
			s.stopErr = s.scheduler.Shutdown()
			close(s.stopped)
		}()
	})
}

// AwaitIdle blocks up to timeout for the shutdown started by RequestStop to
// finish. It reports whether every in-flight run settled. Calling AwaitIdle
// without RequestStop waits for a stop that never comes and returns false.
func (s *Scheduler) AwaitIdle(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-s.stopped:
		if s.stopErr != nil {
			s.logger.Warn("scheduler shutdown incomplete", "error", s.stopErr)
			return false
		}
		return true
	case <-t.C:
		return false
	}
}
