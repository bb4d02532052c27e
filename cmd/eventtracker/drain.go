package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"eventtracker/internal/drain"
	"eventtracker/internal/gate"
	"eventtracker/internal/scheduler"
	"eventtracker/internal/spool"
)

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Deliver everything left in the spool directory and exit",
		Long: `Drain runs the shutdown sequence against an existing spool without
starting the HTTP server: leftover open buffers are committed, quarantined
files are promoted, and pending files are sent to the configured sender
until the first send failure. Each of these stages is bounded by
--stage-timeout. The command fails if any stage fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			report, err := offlineDrain(rt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			if report.Failed() {
				return fmt.Errorf("drain finished with %d failed stage(s)", report.Failures())
			}
			return nil
		},
	}
}

// offlineDrain runs the drain orchestrator over the spool in rt's home with
// an idle scheduler and a fresh gate.
func offlineDrain(rt *runtime) (drain.Report, error) {
	cfg, logger := rt.cfg, rt.logger

	snd, err := openSender(cfg.Sender, logger)
	if err != nil {
		return drain.Report{}, fmt.Errorf("open %s sender: %w", cfg.Sender.Type, err)
	}
	writer, err := spool.New(spool.Config{
		Dir:         rt.home.SpoolDir(),
		MaxEvents:   cfg.MaxEvents,
		Sender:      snd,
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = snd.Close()
		return drain.Report{}, fmt.Errorf("open spool: %w", err)
	}
	defer func() { _ = writer.Close() }()

	sched, err := scheduler.New(scheduler.Config{
		Interval:    cfg.FlushInterval,
		StopTimeout: cfg.SchedulerTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = snd.Close()
		return drain.Report{}, err
	}

	orch := drain.New(drain.Config{
		Gate:             gate.New(),
		Scheduler:        sched,
		Writer:           writer,
		Sender:           snd,
		SchedulerTimeout: cfg.SchedulerTimeout,
		StageTimeout:     cfg.StageTimeout,
		Logger:           logger,
	})
	return orch.Run(), nil
}
