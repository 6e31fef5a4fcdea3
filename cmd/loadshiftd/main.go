package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/loadshift/loadshift/internal/api"
	"github.com/loadshift/loadshift/internal/config"
	"github.com/loadshift/loadshift/internal/logging"
	"github.com/loadshift/loadshift/internal/notify"
	"github.com/loadshift/loadshift/internal/store"
	"github.com/loadshift/loadshift/internal/telemetry"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "loadshiftd",
		Short: "LoadShift planning daemon with HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(ctx, cfg)
		},
	}

	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.loadshift/config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New("loadshiftd")

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	recorder, err := telemetry.NewRecorder()
	if err != nil {
		return err
	}

	// An empty broker address leaves publishing off.
	var notifier notify.Publisher
	if cfg.MQTTBroker != "" {
		pub, err := notify.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, logging.New("mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		defer pub.Close()
		notifier = pub
	}

	server := api.NewServer(st, api.Options{
		Site:     cfg.Site,
		System:   cfg.System,
		Scoring:  cfg.Scoring,
		Recorder: recorder,
		Notifier: notifier,
		Log:      logging.New("planner"),
	})

	go func() {
		if err := telemetry.StartServer(ctx, cfg.MetricsAddr, logging.New("metrics")); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go planLoop(ctx, server, cfg.PlanInterval, log)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("db", cfg.DBPath).
		Dur("plan_interval", cfg.PlanInterval).
		Msg("loadshiftd listening")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// planLoop reruns planning on the configured interval. The first run
// happens immediately so a fresh daemon serves recommendations without
// waiting out a full interval.
func planLoop(ctx context.Context, server *api.Server, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}

	runOnce := func() {
		if _, err := server.RunPlan(api.PlanRequest{}); err != nil {
			log.Warn().Err(err).Msg("periodic planning run failed")
		}
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
