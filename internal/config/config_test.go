package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EVENTTRACKER_SENDER_TYPE", "memory")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.FlushInterval != DefaultFlushInterval {
		t.Errorf("flush_interval = %s", cfg.FlushInterval)
	}
	if cfg.MaxEvents != DefaultMaxEvents {
		t.Errorf("max_events = %d", cfg.MaxEvents)
	}
	if cfg.SchedulerTimeout != 15*time.Second {
		t.Errorf("scheduler_timeout = %s", cfg.SchedulerTimeout)
	}
	if cfg.StageTimeout != DefaultStageTimeout {
		t.Errorf("stage_timeout = %s", cfg.StageTimeout)
	}
	if cfg.SendTimeout != DefaultSendTimeout {
		t.Errorf("send_timeout = %s", cfg.SendTimeout)
	}
	if cfg.Ingest.Rate != 0 || cfg.Ingest.Burst != DefaultIngestBurst {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Sender.Params == nil {
		t.Error("sender params should never be nil")
	}
}

func TestLoadDefaultSenderNeedsURL(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "url param is required") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
listen: 127.0.0.1:9000
flush_interval: 5s
max_events: 500
sender:
  type: kafka
  params:
    brokers: localhost:9092
    topic: events
ingest:
  rate: 50
  burst: 10
log:
  level: debug
  format: json
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.FlushInterval != 5*time.Second || cfg.MaxEvents != 500 {
		t.Errorf("unexpected core settings: %+v", cfg)
	}
	if cfg.Sender.Type != "kafka" || cfg.Sender.Params["topic"] != "events" {
		t.Errorf("sender = %+v", cfg.Sender)
	}
	if cfg.Ingest.Rate != 50 || cfg.Ingest.Burst != 10 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPrecedence(t *testing.T) {
	path := writeFile(t, "config.yaml", `
listen: ":7000"
max_events: 10
flush_interval: 1m
sender:
  type: memory
`)
	t.Setenv("EVENTTRACKER_MAX_EVENTS", "20")
	t.Setenv("EVENTTRACKER_FLUSH_INTERVAL", "2m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", DefaultListen, "")
	flags.Int("max-events", DefaultMaxEvents, "")
	flags.Duration("flush-interval", DefaultFlushInterval, "")
	if err := flags.Parse([]string{"--max-events", "30"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("unset flag should not override file: listen = %q", cfg.Listen)
	}
	if cfg.FlushInterval != 2*time.Minute {
		t.Errorf("env should override file: flush_interval = %s", cfg.FlushInterval)
	}
	if cfg.MaxEvents != 30 {
		t.Errorf("flag should override env: max_events = %d", cfg.MaxEvents)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Listen:           ":8080",
			FlushInterval:    time.Second,
			MaxEvents:        1,
			SchedulerTimeout: time.Second,
			StageTimeout:     time.Second,
			SendTimeout:      time.Second,
			Sender:           SenderConfig{Type: "http", Params: map[string]string{"url": "http://x"}},
			Ingest:           IngestConfig{Burst: 1},
			Log:              LogConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"zero interval", func(c *Config) { c.FlushInterval = 0 }, "flush_interval"},
		{"zero max events", func(c *Config) { c.MaxEvents = 0 }, "max_events"},
		{"negative scheduler timeout", func(c *Config) { c.SchedulerTimeout = -time.Second }, "scheduler_timeout"},
		{"zero stage timeout", func(c *Config) { c.StageTimeout = 0 }, "stage_timeout"},
		{"zero send timeout", func(c *Config) { c.SendTimeout = 0 }, "send_timeout"},
		{"negative rate", func(c *Config) { c.Ingest.Rate = -1 }, "ingest.rate"},
		{"rate without burst", func(c *Config) { c.Ingest.Rate = 5; c.Ingest.Burst = 0 }, "ingest.burst"},
		{"unknown sender", func(c *Config) { c.Sender.Type = "carrier-pigeon" }, "unknown sender type"},
		{"s3 without bucket", func(c *Config) { c.Sender = SenderConfig{Type: "s3"} }, "bucket param is required"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	c := Config{Sender: SenderConfig{Type: "http"}, Log: LogConfig{Format: "text"}}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"listen", "flush_interval", "max_events", "url param"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestSenderTypes(t *testing.T) {
	got := strings.Join(SenderTypes(), ",")
	if got != "http,kafka,memory,mqtt,s3" {
		t.Errorf("SenderTypes = %s", got)
	}
}
