// Package app assembles the token registry, push dispatcher and CRM poller
// from configuration. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/api/handler"
	"github.com/crmpush/crmpush/internal/config"
	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/database"
	"github.com/crmpush/crmpush/internal/device"
	"github.com/crmpush/crmpush/internal/dispatch"
	"github.com/crmpush/crmpush/internal/fcm"
	"github.com/crmpush/crmpush/internal/poller"
	"github.com/crmpush/crmpush/internal/provider/resilience"
)

// NewLogger builds the root logger. Development environments get a human
// readable console writer; everything else logs JSON to out.
func NewLogger(cfg config.Config, out io.Writer, service, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// Components are the long-lived services built from configuration.
type Components struct {
	Tokens     *device.Service
	Dispatcher *dispatch.Dispatcher
	CRM        *crm.Client
	Poller     *poller.Poller
	Providers  *resilience.Registry
	Checks     []handler.ReadinessCheck

	closers []func()
}

// Options override parts of the assembly, mostly for tests.
type Options struct {
	// Sender replaces the FCM or dry-run sender.
	Sender dispatch.Sender
	// Repository replaces the configured token store.
	Repository device.Repository
}

// Build wires every component. On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (_ *Components, err error) {
	c := &Components{Providers: resilience.NewRegistry()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	var fbApp *firebase.App
	needsApp := cfg.NeedsFirebase()
	switch {
	case opts.Sender != nil && opts.Repository != nil:
		needsApp = false
	case opts.Sender != nil:
		needsApp = cfg.Store.Backend == config.StoreFirestore
	case opts.Repository != nil:
		needsApp = !cfg.Push.DryRun
	}
	if needsApp {
		creds := fcm.Credentials{JSON: cfg.Firebase.CredentialsJSON, File: cfg.Firebase.CredentialsFile}
		fbApp, err = fcm.NewApp(ctx, creds)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("credentials_source", creds.Source()).Msg("firebase initialized")
	}

	repo := opts.Repository
	if repo == nil {
		repo, err = c.openStore(ctx, cfg, fbApp, logger)
		if err != nil {
			return nil, err
		}
	}
	c.Tokens = device.NewService(device.ServiceConfig{Repository: repo, Logger: logger})

	sender := opts.Sender
	switch {
	case sender != nil:
	case cfg.Push.DryRun:
		logger.Warn().Msg("push dry run enabled, notifications are logged and not sent")
		sender = fcm.NewDryRunSender(logger)
	default:
		client, err := fcm.NewClient(ctx, fbApp, logger)
		if err != nil {
			return nil, err
		}
		sender = client
	}

	c.Dispatcher, err = dispatch.New(dispatch.Config{
		Sender:         sender,
		Registry:       c.Tokens,
		Logger:         logger,
		SendTimeout:    cfg.Push.SendTimeout,
		MaxConcurrency: cfg.Push.MaxConcurrency,
		RatePerSecond:  cfg.Push.RatePerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	c.CRM = crm.NewClient(crm.ClientConfig{
		MessagesURL:    cfg.CRM.MessagesURL,
		BotsURL:        cfg.CRM.BotsURL,
		APIKey:         cfg.CRM.APIKey,
		Timeout:        cfg.CRM.Timeout,
		MaxRetries:     cfg.CRM.MaxRetries,
		CircuitBreaker: cfg.CRM.Breaker,
		Registry:       c.Providers,
		Logger:         logger,
	})

	c.Poller, err = poller.New(poller.Config{
		Source:      c.CRM,
		Resolver:    crm.NewResolver(c.CRM, logger),
		Broadcaster: c.Dispatcher,
		Logger:      logger,
		Interval:    cfg.Poller.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	return c, nil
}

func (c *Components) openStore(ctx context.Context, cfg config.Config, fbApp *firebase.App, logger zerolog.Logger) (device.Repository, error) {
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating firestore client: %w", err)
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		logger.Info().Str("collection", device.TokensCollection).Msg("using firestore token store")
		return device.NewFirestoreRepository(client), nil

	case config.StorePostgres:
		dbCfg := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		repo := device.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("creating token schema: %w", err)
		}
		c.Checks = append(c.Checks, handler.ReadinessCheck{Name: "postgres", Check: pool.Ping})
		logger.Info().Str("database", dbCfg.Redacted()).Msg("using postgres token store")
		return repo, nil

	case config.StoreSQLite:
		repo, err := device.OpenSQLiteRepository(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite token store: %w", err)
		}
		c.closers = append(c.closers, func() { _ = repo.Close() })
		c.Checks = append(c.Checks, handler.ReadinessCheck{Name: "sqlite", Check: repo.Ping})
		logger.Info().Str("path", cfg.Store.SQLitePath).Msg("using sqlite token store")
		return repo, nil

	case config.StoreMemory:
		logger.Warn().Msg("using in-memory token store, registrations are lost on restart")
		return device.NewInMemoryRepository(), nil
	}

	return nil, fmt.Errorf("%w: TOKEN_STORE=%q", config.ErrInvalidValue, cfg.Store.Backend)
}

// Close releases store connections in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
