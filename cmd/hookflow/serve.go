package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hookflow/internal/api"
	"hookflow/internal/config"
)

func serveCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task API and the delivery engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().String("addr", "", "HTTP bind address")
	cmd.Flags().Int("workers", 0, "concurrent deliveries per cycle")
	cmd.Flags().String("poll", "", "engine cadence (duration, @every or cron)")
	return cmd
}

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServerWithDebug(repo, eng, cfg.HTTP.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
	case err = <-srvErr:
		log.Error().Err(err).Msg("http server")
	}
	log.Info().Msg("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	eng.Stop()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace())
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)

	// In-flight deliveries finish on their own timeouts and are saved.
	<-engineDone
	return err
}
