// Package main provides the entrypoint for the crmpush API server. It serves
// token registration and, unless POLLER_ENABLED=false, runs the CRM poller
// in the same process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/api"
	"github.com/crmpush/crmpush/internal/api/middleware"
	"github.com/crmpush/crmpush/internal/app"
	"github.com/crmpush/crmpush/internal/config"
	"github.com/crmpush/crmpush/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "crmpush-api"

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := app.NewLogger(cfg, os.Stdout, serviceName, Version)
	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting crmpush API")

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

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	comps, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Error().Err(err).Msg("failed to build services")
		os.Exit(1)
	}
	defer comps.Close()

	routerCfg := api.RouterConfig{
		Version:               Version,
		BuildTime:             BuildTime,
		Logger:                log,
		ServiceName:           serviceName,
		Metrics:               metrics,
		Tokens:                comps.Tokens,
		RegistrationAPIKey:    cfg.Registration.APIKey,
		RegistrationRateLimit: cfg.Registration.RateLimit,
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
		RequireTLS:            cfg.RequireTLS,
		Providers:             comps.Providers,
		ReadinessChecks:       comps.Checks,
	}

	pollerDone := make(chan struct{})
	if cfg.Poller.Enabled {
		routerCfg.Poller = comps.Poller
		go func() {
			defer close(pollerDone)
			comps.Poller.Run(ctx)
		}()
	} else {
		close(pollerDone)
		log.Info().Msg("poller disabled, serving registration only")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
		stop()
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	<-pollerDone

	log.Info().Msg("server stopped")
}
