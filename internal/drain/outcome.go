package drain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage identifies one step of the drain sequence.
type Stage int

// The drain stages, in execution order.
const (
	StageCloseGate Stage = iota + 1
	StageStopScheduler
	StageForceCommit
	StagePromoteQuarantine
	StageFlush
	StageCloseSender
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageCloseGate,
	StageStopScheduler,
	StageForceCommit,
	StagePromoteQuarantine,
	StageFlush,
	StageCloseSender,
}

func (s Stage) String() string {
	switch s {
	case StageCloseGate:
		return "close-gate"
	case StageStopScheduler:
		return "stop-scheduler"
	case StageForceCommit:
		return "force-commit"
	case StagePromoteQuarantine:
		return "promote-quarantine"
	case StageFlush:
		return "flush"
	case StageCloseSender:
		return "close-sender"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Status is the result class of a stage.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrTimeout is the error recorded when the scheduler does not settle in time.
var ErrTimeout = errors.New("scheduler did not settle before timeout")

// ErrStageTimeout is the error recorded when a spool or sender stage is
// still running at its deadline.
var ErrStageTimeout = errors.New("stage did not finish before timeout")

// CommitError wraps a failure to seal the open spool buffer.
type CommitError struct{ Err error }

func (e *CommitError) Error() string { return "commit: " + e.Err.Error() }
func (e *CommitError) Unwrap() error { return e.Err }

// FlushError wraps a failure to deliver spooled files.
type FlushError struct{ Err error }

func (e *FlushError) Error() string { return "flush: " + e.Err.Error() }
func (e *FlushError) Unwrap() error { return e.Err }

// StageError wraps any other stage failure, including recovered panics.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return e.Stage.String() + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the recorded result of one stage.
type Outcome struct {
	Stage    Stage
	Status   Status
	Err      error // nil when Status is StatusOK
	Duration time.Duration
}

// Reason returns the underlying cause of a failure, without the stage
// wrapper, or "" for a successful stage.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	cause := o.Err
	if u := errors.Unwrap(cause); u != nil {
		cause = u
	}
	return cause.Error()
}

func (o Outcome) String() string {
	if o.Status == StatusOK {
		return o.Stage.String() + "=ok"
	}
	return fmt.Sprintf("%s=%s(%s)", o.Stage, o.Status, o.Reason())
}

// Report is the ordered list of stage outcomes of a drain run.
type Report struct {
	Outcomes []Outcome
	Started  time.Time
	Finished time.Time
}

// Outcome returns the outcome recorded for stage, if any.
func (r Report) Outcome(stage Stage) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Stage == stage {
			return o, true
		}
	}
	return Outcome{}, false
}

// Failures counts stages that did not end ok.
func (r Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusOK {
			n++
		}
	}
	return n
}

// Failed reports whether any stage did not end ok.
func (r Report) Failed() bool { return r.Failures() > 0 }

// Duration is the wall-clock time of the whole sequence.
func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

func (r Report) String() string {
	parts := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		parts[i] = o.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
