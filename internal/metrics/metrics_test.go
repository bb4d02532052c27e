package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.EventAccepted()
	m.EventRejected("closed")
	m.SpoolFile(FileSent)
	m.DrainStage("flush", "ok", time.Second)
	m.SetDraining(true)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventAccepted()
	m.EventAccepted()
	m.EventRejected("gate_closed")
	m.SpoolFile(FileQuarantined)
	m.DrainStage("force-commit", "failed", 10*time.Millisecond)
	m.SetDraining(true)

	if got := testutil.ToFloat64(m.eventsAccepted); got != 2 {
		t.Errorf("accepted = %v", got)
	}
	if got := testutil.ToFloat64(m.eventsRejected.WithLabelValues("gate_closed")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(m.spoolFiles.WithLabelValues(FileQuarantined)); got != 1 {
		t.Errorf("quarantined = %v", got)
	}
	if got := testutil.ToFloat64(m.drainStages.WithLabelValues("force-commit", "failed")); got != 1 {
		t.Errorf("drain stage = %v", got)
	}
	if got := testutil.ToFloat64(m.draining); got != 1 {
		t.Errorf("draining = %v", got)
	}

	if n, err := testutil.GatherAndCount(reg, "eventtracker_drain_stage_duration_seconds"); err != nil || n != 1 {
		t.Errorf("duration series = %d, err %v", n, err)
	}
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
