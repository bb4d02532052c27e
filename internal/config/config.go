// Package config loads eventtracker configuration.
//
// Values are resolved with the usual precedence: explicit command-line
// flags, then EVENTTRACKER_* environment variables, then the optional
// config file, then the defaults below.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"eventtracker/internal/logging"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "EVENTTRACKER"

// Defaults.
const (
	DefaultListen           = ":8080"
	DefaultFlushInterval    = 30 * time.Second
	DefaultMaxEvents        = 10000
	DefaultSchedulerTimeout = 15 * time.Second
	DefaultStageTimeout     = 30 * time.Second
	DefaultSendTimeout      = 10 * time.Second
	DefaultSenderType       = "http"
	DefaultIngestBurst      = 100
)

// Config is the full process configuration.
type Config struct {
	// Home overrides the state directory. Empty means the platform default.
	Home string `mapstructure:"home"`

	Listen           string        `mapstructure:"listen"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	MaxEvents        int           `mapstructure:"max_events"`
	SchedulerTimeout time.Duration `mapstructure:"scheduler_timeout"`
	StageTimeout     time.Duration `mapstructure:"stage_timeout"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`

	Sender SenderConfig `mapstructure:"sender"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Log    LogConfig    `mapstructure:"log"`
}

// SenderConfig selects the remote transport. Params are passed to the
// sender factory as-is.
type SenderConfig struct {
	Type   string            `mapstructure:"type"`
	Params map[string]string `mapstructure:"params"`
}

// IngestConfig tunes the HTTP ingest endpoint.
type IngestConfig struct {
	// Rate is the per-client request rate. Zero disables limiting.
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// requiredParams lists the params each sender type cannot do without.
var requiredParams = map[string][]string{
	"http":   {"url"},
	"kafka":  {"brokers", "topic"},
	"mqtt":   {"broker", "topic"},
	"s3":     {"bucket"},
	"memory": nil,
}

// SenderTypes returns the sender types Validate accepts, sorted.
func SenderTypes() []string {
	types := make([]string, 0, len(requiredParams))
	for t := range requiredParams {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"home":              "home",
	"listen":            "listen",
	"flush-interval":    "flush_interval",
	"max-events":        "max_events",
	"scheduler-timeout": "scheduler_timeout",
	"stage-timeout":     "stage_timeout",
	"send-timeout":      "send_timeout",
	"sender":            "sender.type",
	"ingest-rate":       "ingest.rate",
	"ingest-burst":      "ingest.burst",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", "")
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("flush_interval", DefaultFlushInterval)
	v.SetDefault("max_events", DefaultMaxEvents)
	v.SetDefault("scheduler_timeout", DefaultSchedulerTimeout)
	v.SetDefault("stage_timeout", DefaultStageTimeout)
	v.SetDefault("send_timeout", DefaultSendTimeout)
	v.SetDefault("sender.type", DefaultSenderType)
	v.SetDefault("sender.params", map[string]string{})
	v.SetDefault("ingest.rate", 0.0)
	v.SetDefault("ingest.burst", DefaultIngestBurst)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves the configuration. path may be empty, in which case no file
// is read. flags may be nil; otherwise every known flag in it is bound.
// The result is not validated: callers apply any overrides and then call
// Validate.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Sender.Params == nil {
		cfg.Sender.Params = map[string]string{}
	}
	return &cfg, nil
}

// Validate checks limits, durations, the sender selection and log settings.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be positive, got %s", c.FlushInterval))
	}
	if c.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("max_events must be positive, got %d", c.MaxEvents))
	}
	if c.SchedulerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scheduler_timeout must be positive, got %s", c.SchedulerTimeout))
	}
	if c.StageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stage_timeout must be positive, got %s", c.StageTimeout))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send_timeout must be positive, got %s", c.SendTimeout))
	}
	if c.Ingest.Rate < 0 {
		errs = append(errs, fmt.Errorf("ingest.rate must not be negative, got %g", c.Ingest.Rate))
	}
	if c.Ingest.Rate > 0 && c.Ingest.Burst <= 0 {
		errs = append(errs, fmt.Errorf("ingest.burst must be positive when ingest.rate is set, got %d", c.Ingest.Burst))
	}

	required, ok := requiredParams[c.Sender.Type]
	if !ok {
		errs = append(errs, fmt.Errorf("unknown sender type %q (known: %v)", c.Sender.Type, SenderTypes()))
	}
	for _, p := range required {
		if c.Sender.Params[p] == "" {
			errs = append(errs, fmt.Errorf("sender %s: %s param is required", c.Sender.Type, p))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
