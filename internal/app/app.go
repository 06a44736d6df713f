package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/auth"
	redisbroker "github.com/vovakirdan/pairchat/internal/broker/redis"
	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/imaging"
	"github.com/vovakirdan/pairchat/internal/service/chat"
	"github.com/vovakirdan/pairchat/internal/service/friends"
	"github.com/vovakirdan/pairchat/internal/service/profile"
	"github.com/vovakirdan/pairchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/pairchat/internal/transport/http"
)

const revocationPurgeInterval = time.Hour

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	broker          *redisbroker.Broker
	auth            *auth.Service
	profiles        *profile.Service
	store           *sqlite.SQLiteStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	a.auth = auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}, logger)

	a.hub = core.NewHub(logger)

	var publisher core.Publisher = a.hub
	if cfg.RedisURL != "" {
		a.broker, err = redisbroker.New(ctx, cfg.RedisURL, a.hub, logger)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init redis broker: %w", err)
		}
		publisher = a.broker
		logger.Info().Msg("redis fan-out enabled")
	}

	deps := transporthttp.Deps{
		Hub:   a.hub,
		Auth:  a.auth,
		Store: st,
	}

	if cfg.OIDC.Enabled() {
		provider, err := auth.NewOIDCProvider(ctx, cfg.OIDC)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init oidc provider: %w", err)
		}
		deps.OIDC = provider
		logger.Info().Str("issuer", cfg.OIDC.Issuer).Msg("oidc sign-in enabled")
	}

	a.profiles, err = profile.New(st, publisher, profile.Options{
		CacheSize:      cfg.ProfileCacheSize,
		MaxUploadBytes: cfg.PhotoMaxUploadBytes,
		Imaging: imaging.Options{
			MaxDimension: cfg.PhotoMaxDimension,
			Quality:      cfg.PhotoJPEGQuality,
			MaxPixels:    cfg.PhotoMaxPixels,
		},
	}, logger)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("init profile service: %w", err)
	}
	deps.Profiles = a.profiles
	deps.Friends = friends.New(st, publisher, logger)
	deps.Chat = chat.New(st, a.profiles, publisher, logger)

	a.server = transporthttp.NewServer(deps, cfg, logger)
	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)
	go a.auth.RunRevocationJanitor(ctx, revocationPurgeInterval)
	if a.broker != nil {
		go func() {
			if err := a.broker.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("redis broker stopped")
			}
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
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

// cleanup closes the broker, caches and database.
func (a *App) cleanup() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis broker")
		}
	}
	if a.profiles != nil {
		a.profiles.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
