package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"hookflow/internal/domain"
	"hookflow/internal/recurrence"
)

type Config struct {
	Log      LogConfig      `json:"log"`
	HTTP     HTTPConfig     `json:"http"`
	Store    StoreConfig    `json:"store"`
	Engine   EngineConfig   `json:"engine"`
	Dispatch DispatchConfig `json:"dispatch"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // console or json
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	Debug           bool   `json:"debug"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	RedisURL    string `json:"redis_url"`
	RedisPrefix string `json:"redis_prefix"`
}

type EngineConfig struct {
	// Poll is a Go duration ("30s"), an "@every" descriptor or a cron expression.
	Poll     string           `json:"poll"`
	Workers  int              `json:"workers"`
	Fallback RecurrenceConfig `json:"fallback"`
}

type RecurrenceConfig struct {
	Type     string `json:"type"`
	Interval int    `json:"interval"`
}

type DispatchConfig struct {
	DefaultTimeout   string  `json:"default_timeout"`
	MaxResponseBytes int64   `json:"max_response_bytes"`
	UserAgent        string  `json:"user_agent"`
	RatePerSec       float64 `json:"rate_per_sec"`
	Burst            int     `json:"burst"`
}

func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "console"},
		HTTP: HTTPConfig{Addr: ":8080", ShutdownTimeout: "5s"},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "hookflow.db",
			RedisPrefix: "hookflow:",
		},
		Engine: EngineConfig{
			Poll:     "30s",
			Workers:  4,
			Fallback: RecurrenceConfig{Type: string(domain.RecurYear), Interval: 1},
		},
		Dispatch: DispatchConfig{
			DefaultTimeout:   "60s",
			MaxResponseBytes: 1 << 20,
			UserAgent:        "hookflow/1",
		},
	}
}

// Load reads a JSON or YAML file over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, b, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	jb := data
	if isYAML(path) {
		var err error
		if jb, err = yamlToJSON(data); err != nil {
			return err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing data")
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("HOOKFLOW_LOG_LEVEL", &cfg.Log.Level)
	set("HOOKFLOW_HTTP_ADDR", &cfg.HTTP.Addr)
	set("HOOKFLOW_STORE_DRIVER", &cfg.Store.Driver)
	set("HOOKFLOW_STORE_PATH", &cfg.Store.Path)
	set("HOOKFLOW_REDIS_URL", &cfg.Store.RedisURL)
}

func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format)
	}
	if _, err := durationOr("http.shutdown_timeout", c.HTTP.ShutdownTimeout, 0); err != nil {
		return err
	}
	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return fmt.Errorf("store.redis_url is required for redis")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if _, err := ParseCadence(c.Engine.Poll); err != nil {
		return fmt.Errorf("engine.poll: %w", err)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1")
	}
	if !recurrence.Known(domain.Recurrence(c.Engine.Fallback.Type)) {
		return fmt.Errorf("engine.fallback.type: unrecognized recurrence %q", c.Engine.Fallback.Type)
	}
	if c.Engine.Fallback.Interval < 1 {
		return fmt.Errorf("engine.fallback.interval must be >= 1")
	}
	if _, err := durationOr("dispatch.default_timeout", c.Dispatch.DefaultTimeout, 0); err != nil {
		return err
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	return nil
}

// Cadence returns the schedule deciding when engine cycles run.
func (e EngineConfig) Cadence() cron.Schedule {
	s, err := ParseCadence(e.Poll)
	if err != nil {
		return cron.Every(30 * time.Second)
	}
	return s
}

// ParseCadence accepts a positive Go duration, a descriptor such as
// "@every 1m" or "@hourly", or a standard 5-field cron expression.
// An optional "cron:" or "interval:" prefix is ignored.
func ParseCadence(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "cron:")
	s = strings.TrimPrefix(s, "interval:")
	s = strings.TrimSpace(s)
	if s == "" {
		return cron.Every(30 * time.Second), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0, got %s", s)
		}
		return cron.Every(d), nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return sched, nil
}
