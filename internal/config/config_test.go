package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Poll != "30s" || cfg.Engine.Workers != 4 || cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Engine.Fallback.Type != "Year" || cfg.Engine.Fallback.Interval != 1 {
		t.Fatalf("fallback = %+v", cfg.Engine.Fallback)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	p := writeFile(t, "hookflow.yaml", `
engine:
  poll: "@every 1m"
  workers: 2
store:
  driver: memory
dispatch:
  rate_per_sec: 2.5
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Workers != 2 || cfg.Store.Driver != "memory" || cfg.Dispatch.RatePerSec != 2.5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("default addr lost: %q", cfg.HTTP.Addr)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := cfg.Engine.Cadence().Next(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("cadence next = %v", got)
	}
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "hookflow.json", `{"engine":{"pol":"10s"}}`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "hookflow.json", `{"engine":{"poll":"10s"}}{}`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad driver", func(c *Config) { c.Store.Driver = "etcd" }},
		{"redis without url", func(c *Config) { c.Store.Driver = "redis" }},
		{"bad poll", func(c *Config) { c.Engine.Poll = "often" }},
		{"negative poll", func(c *Config) { c.Engine.Poll = "-5s" }},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"bad fallback", func(c *Config) { c.Engine.Fallback.Type = "Week" }},
		{"zero fallback interval", func(c *Config) { c.Engine.Fallback.Interval = 0 }},
		{"bad timeout", func(c *Config) { c.Dispatch.DefaultTimeout = "soon" }},
		{"negative rate", func(c *Config) { c.Dispatch.RatePerSec = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestParseCadence(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"30s", base.Add(30 * time.Second)},
		{"interval:2m", base.Add(2 * time.Minute)},
		{"", base.Add(30 * time.Second)},
		{"*/15 * * * *", time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"cron:0 * * * *", time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		s, err := ParseCadence(tt.raw)
		if err != nil {
			t.Fatalf("ParseCadence(%q): %v", tt.raw, err)
		}
		if got := s.Next(base); !got.Equal(tt.want) {
			t.Fatalf("ParseCadence(%q).Next = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOOKFLOW_HTTP_ADDR", ":9999")
	t.Setenv("HOOKFLOW_STORE_DRIVER", "memory")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" || cfg.Store.Driver != "memory" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if got := cfg.HTTP.ShutdownGrace(); got != 5*time.Second {
		t.Fatalf("ShutdownGrace() = %v", got)
	}
	cfg.Dispatch.DefaultTimeout = ""
	if got := cfg.Dispatch.Timeout(); got != 60*time.Second {
		t.Fatalf("empty Timeout() = %v, want 60s", got)
	}
	cfg.Dispatch.DefaultTimeout = "2500ms"
	if got := cfg.Dispatch.Timeout(); got != 2500*time.Millisecond {
		t.Fatalf("Timeout() = %v", got)
	}
	cfg.Dispatch.DefaultTimeout = "-1s"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "dispatch.default_timeout") {
		t.Fatalf("Validate() = %v, want dispatch.default_timeout error", err)
	}
}

func TestYAMLNonStringKeysRejected(t *testing.T) {
	p := writeFile(t, "bad.yml", "engine:\n  1: x\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for non-string yaml key")
	}
}
