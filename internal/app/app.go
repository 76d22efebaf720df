package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/archive"
	"github.com/marketchat/marketchat-server/internal/auth"
	"github.com/marketchat/marketchat-server/internal/chat"
	"github.com/marketchat/marketchat-server/internal/codec"
	"github.com/marketchat/marketchat-server/internal/config"
	"github.com/marketchat/marketchat-server/internal/core"
	"github.com/marketchat/marketchat-server/internal/log"
	"github.com/marketchat/marketchat-server/internal/notify"
	"github.com/marketchat/marketchat-server/internal/store"
	"github.com/marketchat/marketchat-server/internal/store/sqlite"
	transporthttp "github.com/marketchat/marketchat-server/internal/transport/http"
)

// App wires together the pipeline, presence, storage, and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	archiver        *archive.Archiver
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	cd, err := codec.New(cfg.EncryptionSecret, cfg.LegacyKeys, cfg.DevMode)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init codec: %w", err)
	}

	archiver, err := archive.New(st, cfg.ArchiveDatabasePath, log.Component(logger, "archive"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init archiver: %w", err)
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// Config validation only lets this through in dev mode.
		jwtSecret = "marketchat-dev-only-jwt-secret"
	}
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}

	registry := core.NewRegistry()
	limiter := chat.NewLimiter(cfg.RateLimit, cfg.RateWindow)
	notifier := notify.NewEmail(cfg.SMTP, notify.StaticResolver(cfg.SMTP.Addresses),
		log.Component(logger, "notify"))

	svc := chat.NewService(st, cd, limiter, registry, notifier,
		log.Component(logger, "chat"), cfg.StoreTimeout, cfg.CodecTimeout)

	server := transporthttp.NewServer(cfg, svc, archiver, registry, jwtConfig,
		log.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		archiver:        archiver,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database handles and other resources.
func (a *App) cleanup() {
	if a.archiver != nil {
		if err := a.archiver.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close archiver")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
