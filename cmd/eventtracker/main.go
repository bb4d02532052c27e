// Command eventtracker accepts tracked events over HTTP, spools them to
// disk and forwards them to a remote collector.
//
// Logging:
//   - Base logger is created here from the resolved config
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"

	"github.com/spf13/cobra"

	"eventtracker/internal/config"
	"eventtracker/internal/home"
	"eventtracker/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "eventtracker",
		Short:         "Event tracking pipeline with durable spool and graceful drain",
		SilenceUsage:  true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: <home>/config.yaml if present)")
	pf.String("home", "", "home directory (default: platform config dir)")
	pf.String("sender", config.DefaultSenderType, fmt.Sprintf("remote sender type %v", config.SenderTypes()))
	pf.StringToString("sender-param", nil, "sender parameter key=value (repeatable)")
	pf.Duration("send-timeout", config.DefaultSendTimeout, "timeout for one remote send")
	pf.Duration("stage-timeout", config.DefaultStageTimeout, "upper bound for each spool and sender stage of the drain")
	pf.Int("max-events", config.DefaultMaxEvents, "events per spool file before it is committed")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(newServeCmd(), newDrainCmd(), versionCmd)
	return rootCmd
}

// runtime is what every command needs after startup: resolved config,
// home directory and base logger.
type runtime struct {
	cfg    *config.Config
	home   home.Dir
	logger *slog.Logger
}

// setup resolves home, loads config and builds the base logger.
func setup(cmd *cobra.Command) (*runtime, error) {
	flags := cmd.Flags()
	homeFlag, _ := flags.GetString("home")
	cfgPath, _ := flags.GetString("config")

	hd, err := resolveHome(homeFlag)
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	if cfgPath == "" {
		if _, err := os.Stat(hd.ConfigPath()); err == nil {
			cfgPath = hd.ConfigPath()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", hd.ConfigPath(), err)
		}
	}

	extra, _ := flags.GetStringToString("sender-param")
	cfg, err := loadConfig(cfgPath, cmd, extra)
	if err != nil {
		return nil, err
	}
	if cfg.Home != "" && homeFlag == "" {
		hd = home.New(cfg.Home)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Format, level)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, home: hd, logger: logger}, nil
}

func loadConfig(path string, cmd *cobra.Command, extraParams map[string]string) (*config.Config, error) {
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	maps.Copy(cfg.Sender.Params, extraParams)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}
