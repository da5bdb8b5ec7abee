package main

import (
	"context"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hookflow/internal/config"
	"hookflow/internal/dispatch"
	"hookflow/internal/domain"
	"hookflow/internal/logging"
	"hookflow/internal/scheduler"
	"hookflow/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "hookflow",
		Short:        "Scheduled webhook delivery",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("HOOKFLOW_CONFIG"), "config file (yaml or json)")
	root.PersistentFlags().String("db", "", "SQLite DB path")
	root.PersistentFlags().String("log-level", "", "log level")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(tickCmd(&cfgPath))
	return root
}

// loadConfig reads the config file, applies flags that were set explicitly
// and configures logging.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path, _ = flags.GetString("db")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		cfg.HTTP.Addr, _ = flags.GetString("addr")
	}
	if flags.Lookup("workers") != nil && flags.Changed("workers") {
		cfg.Engine.Workers, _ = flags.GetInt("workers")
	}
	if flags.Lookup("poll") != nil && flags.Changed("poll") {
		cfg.Engine.Poll, _ = flags.GetString("poll")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	return cfg, nil
}

// buildEngine opens the store and wires the dispatcher and engine over it.
func buildEngine(ctx context.Context, cfg *config.Config) (store.Store, *scheduler.Engine, error) {
	repo, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		RedisURL:    cfg.Store.RedisURL,
		RedisPrefix: cfg.Store.RedisPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("store opened")

	client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	d := dispatch.New(client, dispatch.Config{
		DefaultTimeout:   cfg.Dispatch.Timeout(),
		MaxResponseBytes: cfg.Dispatch.MaxResponseBytes,
		UserAgent:        cfg.Dispatch.UserAgent,
		RatePerSec:       cfg.Dispatch.RatePerSec,
		Burst:            cfg.Dispatch.Burst,
	})

	eng := scheduler.New(repo, d, scheduler.Config{
		Cadence:          cfg.Engine.Cadence(),
		Workers:          cfg.Engine.Workers,
		FallbackType:     domain.Recurrence(cfg.Engine.Fallback.Type),
		FallbackInterval: cfg.Engine.Fallback.Interval,
	})
	return repo, eng, nil
}
