package drain

import (
	"context"
	"os"
	"os/signal"
)

// Watch registers the drain as the process termination hook. The drain runs
// when one of signals arrives or when ctx is cancelled, whichever comes
// first. The returned channel receives the report and is then closed.
//
// Watch may coexist with explicit Run calls (for example a deferred Run in
// main): the run-once guard ensures the sequence executes a single time.
// With no signals, only ctx triggers the drain.
func Watch(ctx context.Context, o *Orchestrator, signals ...os.Signal) <-chan Report {
	trigger, stop := ctx, context.CancelFunc(func() {})
	if len(signals) > 0 {
		trigger, stop = signal.NotifyContext(ctx, signals...)
	}

	out := make(chan Report, 1)
	go func() {
		defer close(out)
		defer stop()
		select {
		case <-trigger.Done():
			o.logger.Info("termination hook fired", "cause", context.Cause(trigger))
		case <-o.Done():
		}
		out <- o.Run()
	}()
	return out
}
