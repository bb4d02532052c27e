// Package drain runs the one-shot shutdown sequence of the event pipeline.
//
// The sequence is fixed:
//
//  1. close the acceptance gate
//  2. stop the flush scheduler and wait (bounded) for it to go idle
//  3. commit the open spool buffer
//  4. promote quarantined spool files
//  5. flush the spool to the remote sender
//  6. close the remote sender
//
// A failing stage never prevents the next one from running: each stage's
// error (or panic) is recorded in the Report and the sequence moves on.
// Stages 3 to 6 are bounded by Config.StageTimeout; a stage still running
// at its deadline is abandoned and recorded as a timeout.
// The sequence runs at most once per Orchestrator.
package drain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"eventtracker/internal/logging"
	"eventtracker/internal/metrics"
)

// DefaultSchedulerTimeout bounds the wait for in-flight flush jobs.
const DefaultSchedulerTimeout = 15 * time.Second

// DefaultStageTimeout bounds each of the spool and sender stages.
const DefaultStageTimeout = 30 * time.Second

// Gate is the acceptance switch closed in stage 1.
type Gate interface {
	Close()
}

// Scheduler is the periodic flush scheduler stopped in stage 2.
type Scheduler interface {
	RequestStop()
	AwaitIdle(timeout time.Duration) bool
}

// SpoolWriter is the disk spool driven by stages 3 to 5.
type SpoolWriter interface {
	ForceCommit() error
	ProcessQuarantinedFiles(ctx context.Context) error
	Flush(ctx context.Context) error
}

// Sender is the remote transport closed in stage 6.
type Sender interface {
	Close() error
}

// State is the lifecycle position of an Orchestrator.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateDrained:
		return "drained"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the collaborators driven by the drain. None are owned.
type Config struct {
	Gate      Gate
	Scheduler Scheduler
	Writer    SpoolWriter
	Sender    Sender

	// SchedulerTimeout bounds stage 2. Zero means DefaultSchedulerTimeout.
	SchedulerTimeout time.Duration

	// StageTimeout bounds each of stages 3 to 6. Zero means
	// DefaultStageTimeout.
	StageTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs the drain sequence exactly once.
type Orchestrator struct {
	cfg          Config
	timeout      time.Duration
	stageTimeout time.Duration
	logger       *slog.Logger

	state  atomic.Int32
	done   chan struct{} // closed when the first run finishes
	mu     sync.Mutex
	report Report // valid after done is closed
}

// New creates an idle orchestrator.
func New(cfg Config) *Orchestrator {
	timeout := cfg.SchedulerTimeout
	if timeout <= 0 {
		timeout = DefaultSchedulerTimeout
	}
	stageTimeout := cfg.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}
	return &Orchestrator{
		cfg:          cfg,
		timeout:      timeout,
		stageTimeout: stageTimeout,
		logger:       logging.Default(cfg.Logger).With("component", "drain"),
		done:         make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Done returns a channel closed once the drain has finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Run executes the drain sequence. Only the first call runs it; any other
// call, concurrent or later, blocks until that run finishes and returns the
// same report. Run never panics on a stage failure.
func (o *Orchestrator) Run() Report {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		<-o.done
		return o.Report()
	}

	o.cfg.Metrics.SetDraining(true)
	o.logger.Info("starting drain sequence")

	r := Report{Started: time.Now()}
	r.Outcomes = append(r.Outcomes,
		o.stage(StageCloseGate, o.closeGate),
		o.stage(StageStopScheduler, o.stopScheduler),
		o.stage(StageForceCommit, o.forceCommit),
		o.stage(StagePromoteQuarantine, o.promoteQuarantine),
		o.stage(StageFlush, o.flush),
		o.stage(StageCloseSender, o.closeSender),
	)
	r.Finished = time.Now()

	o.mu.Lock()
	o.report = r
	r.Outcomes = slices.Clone(r.Outcomes)
	o.mu.Unlock()
	o.state.Store(int32(StateDrained))
	o.cfg.Metrics.SetDraining(false)
	close(o.done)

	o.logger.Info("drain sequence complete",
		"failures", r.Failures(),
		"duration", r.Duration(),
		"outcomes", r.String())
	return r
}

// Report returns the report of the finished run, or a zero Report if the
// drain has not finished. Each call returns its own copy of the outcomes.
func (o *Orchestrator) Report() Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.report
	r.Outcomes = slices.Clone(r.Outcomes)
	return r
}

// stage runs fn, converting its error or panic into an Outcome.
func (o *Orchestrator) stage(s Stage, fn func() (Status, error)) (out Outcome) {
	o.logger.Info("drain stage started", "stage", s.String())
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			out.Status = StatusFailed
			out.Err = &StageError{Stage: s, Err: fmt.Errorf("panic: %v", p)}
		}
		out.Stage = s
		out.Duration = time.Since(start)
		if out.Status != StatusOK {
			o.logger.Warn("drain stage failed",
				"stage", s.String(),
				"outcome", out.Status.String(),
				"error", out.Err,
				"duration", out.Duration)
		}
		o.cfg.Metrics.DrainStage(s.String(), out.Status.String(), out.Duration)
	}()

	status, err := fn()
	return Outcome{Status: status, Err: err}
}

func (o *Orchestrator) closeGate() (Status, error) {
	o.cfg.Gate.Close()
	return StatusOK, nil
}

func (o *Orchestrator) stopScheduler() (Status, error) {
	o.cfg.Scheduler.RequestStop()
	if !o.cfg.Scheduler.AwaitIdle(o.timeout) {
		return StatusTimeout, fmt.Errorf("%w (%s)", ErrTimeout, o.timeout)
	}
	return StatusOK, nil
}

// stageResult carries the return of a bounded stage back to the drain.
type stageResult struct {
	err      error
	panicked bool
	panicVal any
}

// bounded runs fn under a StageTimeout deadline. If fn has not returned by
// then it is abandoned and left running; the drain does not wait for it.
// A panic in fn is re-raised on the calling goroutine.
func (o *Orchestrator) bounded(fn func(ctx context.Context) error) (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.stageTimeout)
	defer cancel()

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stageResult{panicked: true, panicVal: p}
			}
		}()
		done <- stageResult{err: fn(ctx)}
	}()

	select {
	case res := <-done:
		switch {
		case res.panicked:
			panic(res.panicVal)
		case res.err == nil:
			return StatusOK, nil
		case ctx.Err() != nil:
			return StatusTimeout, fmt.Errorf("%w (%s): %w", ErrStageTimeout, o.stageTimeout, res.err)
		default:
			return StatusFailed, res.err
		}
	case <-ctx.Done():
		return StatusTimeout, fmt.Errorf("%w (%s): %w", ErrStageTimeout, o.stageTimeout, ctx.Err())
	}
}

func (o *Orchestrator) forceCommit() (Status, error) {
	status, err := o.bounded(func(context.Context) error {
		return o.cfg.Writer.ForceCommit()
	})
	if err != nil {
		return status, &CommitError{Err: err}
	}
	return StatusOK, nil
}

func (o *Orchestrator) promoteQuarantine() (Status, error) {
	status, err := o.bounded(o.cfg.Writer.ProcessQuarantinedFiles)
	if err != nil {
		return status, &StageError{Stage: StagePromoteQuarantine, Err: err}
	}
	return StatusOK, nil
}

func (o *Orchestrator) flush() (Status, error) {
	status, err := o.bounded(o.cfg.Writer.Flush)
	if err != nil {
		return status, &FlushError{Err: err}
	}
	return StatusOK, nil
}

func (o *Orchestrator) closeSender() (Status, error) {
	status, err := o.bounded(func(context.Context) error {
		return o.cfg.Sender.Close()
	})
	if err != nil {
		return status, &StageError{Stage: StageCloseSender, Err: err}
	}
	return StatusOK, nil
}
