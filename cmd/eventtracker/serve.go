package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"eventtracker/internal/config"
	"eventtracker/internal/drain"
	"eventtracker/internal/gate"
	"eventtracker/internal/ingest"
	"eventtracker/internal/metrics"
	"eventtracker/internal/scheduler"
	"eventtracker/internal/spool"
	"eventtracker/internal/tracker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept events over HTTP and forward them until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, rt)
		},
	}
	f := cmd.Flags()
	f.String("listen", config.DefaultListen, "HTTP listen address (host:port)")
	f.Duration("flush-interval", config.DefaultFlushInterval, "interval between periodic spool flushes")
	f.Duration("scheduler-timeout", config.DefaultSchedulerTimeout, "how long the drain waits for in-flight flushes")
	f.Float64("ingest-rate", 0, "per-client request rate limit (0 = unlimited)")
	f.Int("ingest-burst", config.DefaultIngestBurst, "per-client request burst")
	return cmd
}

// serve runs the pipeline until ctx is cancelled, then drains it. Only
// startup failures are returned; drain failures are logged.
func serve(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	if err := rt.home.EnsureExists(); err != nil {
		return err
	}
	nodeID, err := rt.home.NodeID()
	if err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	logger.Info("home directory", "path", rt.home.Root(), "node_id", nodeID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	snd, err := openSender(cfg.Sender, logger)
	if err != nil {
		return fmt.Errorf("open %s sender: %w", cfg.Sender.Type, err)
	}

	writer, err := spool.New(spool.Config{
		Dir:         rt.home.SpoolDir(),
		MaxEvents:   cfg.MaxEvents,
		Sender:      snd,
		SendTimeout: cfg.SendTimeout,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		_ = snd.Close()
		return fmt.Errorf("open spool: %w", err)
	}
	defer func() { _ = writer.Close() }()

	sched, err := scheduler.New(scheduler.Config{
		Interval:    cfg.FlushInterval,
		StopTimeout: cfg.SchedulerTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = snd.Close()
		return err
	}
	if err := sched.AddFlushJob("spool-flush", func(ctx context.Context) error {
		if err := writer.ForceCommit(); err != nil {
			return err
		}
		if err := writer.ProcessQuarantinedFiles(ctx); err != nil {
			return err
		}
		return writer.Flush(ctx)
	}); err != nil {
		_ = snd.Close()
		return err
	}

	g := gate.New()
	collector := tracker.New(tracker.Config{
		Gate:    g,
		Spool:   writer,
		Attrs:   map[string]string{"node_id": nodeID},
		Metrics: m,
		Logger:  logger,
	})
	srv := ingest.New(ingest.Config{
		Addr:      cfg.Listen,
		Tracker:   collector,
		Gatherer:  reg,
		RateLimit: cfg.Ingest.Rate,
		Burst:     cfg.Ingest.Burst,
		Logger:    logger,
	})

	orch := drain.New(drain.Config{
		Gate:             g,
		Scheduler:        sched,
		Writer:           writer,
		Sender:           snd,
		SchedulerTimeout: cfg.SchedulerTimeout,
		StageTimeout:     cfg.StageTimeout,
		Metrics:          m,
		Logger:           logger,
	})
	// Guarantees the drain on every exit path; a no-op once the hook ran.
	defer orch.Run()

	sched.Start()
	for _, j := range sched.ListJobs() {
		logger.Info("flush job scheduled", "job", j.Name, "interval", j.Interval, "next_run", j.NextRun)
	}

	grp, gctx := errgroup.WithContext(ctx)
	reports := drain.Watch(gctx, orch)
	grp.Go(func() error { return srv.Run(gctx) })

	err = grp.Wait()
	report := <-reports
	if report.Failed() {
		logger.Error("drain finished with failures", "failures", report.Failures(), "outcomes", report.String())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ingest server: %w", err)
	}
	return nil
}
