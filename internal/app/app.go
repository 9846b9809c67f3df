package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/auth"
	"github.com/crewdeck/crewdeck-server/internal/config"
	"github.com/crewdeck/crewdeck-server/internal/log"
	"github.com/crewdeck/crewdeck-server/internal/presence"
	"github.com/crewdeck/crewdeck-server/internal/pubsub"
	"github.com/crewdeck/crewdeck-server/internal/store"
	"github.com/crewdeck/crewdeck-server/internal/store/sqlite"
	transporthttp "github.com/crewdeck/crewdeck-server/internal/transport/http"
)

// App wires together persistence, presence, and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sweeper         *presence.Sweeper
	store           store.Store
	mirror          pubsub.Publisher
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig, cfg.EmailDomain)

	var mirror pubsub.Publisher = pubsub.Noop{}
	if cfg.RedisAddr != "" {
		redisMirror, err := pubsub.NewRedisPublisher(ctx, cfg.RedisAddr)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init status mirror: %w", err)
		}
		mirror = redisMirror
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("status mirror enabled")
	}

	registry := presence.NewRegistry(st, log.Component(logger, "registry"))
	arbiter := presence.NewArbiter(st, registry, mirror, log.Component(logger, "arbiter"))
	sweeper := presence.NewSweeper(st, arbiter, cfg.StatusSweepInterval, log.Component(logger, "sweeper"))

	server := transporthttp.NewServer(registry, arbiter, authService, st, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		sweeper:         sweeper,
		store:           st,
		mirror:          mirror,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.sweeper.Run(ctx)

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

// cleanup closes the store and the mirror.
func (a *App) cleanup() {
	if err := a.mirror.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close status mirror")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
