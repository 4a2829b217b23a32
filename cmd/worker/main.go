// Package main runs the CRM poller without the registration endpoint. It also
// consumes poll trigger jobs from Pub/Sub when a subscription is configured
// and exposes health endpoints for Cloud Run.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/api"
	"github.com/crmpush/crmpush/internal/app"
	"github.com/crmpush/crmpush/internal/config"
	"github.com/crmpush/crmpush/internal/telemetry"
	"github.com/crmpush/crmpush/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "crmpush-worker"

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := app.NewLogger(cfg, os.Stdout, serviceName, Version)
	log.Info().Str("build_time", BuildTime).Msg("starting crmpush worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	comps, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Error().Err(err).Msg("failed to build services")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer comps.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		comps.Poller.Run(ctx)
	}()

	if cfg.PubSub.Subscription != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:    cfg.PubSub.ProjectID,
			Subscription: cfg.PubSub.Subscription,
			Jobs:         worker.NewJobs(comps.Poller, comps.Providers, log),
			Logger:       log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			stop()
		} else {
			defer func() { _ = handler.Close() }()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("pubsub receive stopped")
				}
			}()
		}
	}

	// Tokens is nil, so the health server does not mount registration.
	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.RouterConfig{
			Version:            Version,
			BuildTime:          BuildTime,
			Logger:             log,
			ServiceName:        serviceName,
			RegistrationAPIKey: cfg.Registration.APIKey,
			Poller:             comps.Poller,
			Providers:          comps.Providers,
			ReadinessChecks:    comps.Checks,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
	wg.Wait()

	log.Info().Msg("worker stopped")
}
