package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/auth"
	"github.com/vovakirdan/jobchat-server/internal/bridge"
	"github.com/vovakirdan/jobchat-server/internal/config"
	"github.com/vovakirdan/jobchat-server/internal/core"
	applog "github.com/vovakirdan/jobchat-server/internal/log"
	"github.com/vovakirdan/jobchat-server/internal/ratelimit"
	"github.com/vovakirdan/jobchat-server/internal/service/messaging"
	"github.com/vovakirdan/jobchat-server/internal/store"
	"github.com/vovakirdan/jobchat-server/internal/store/gormstore"
	"github.com/vovakirdan/jobchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/jobchat-server/internal/transport/http"
)

const startupTimeout = 10 * time.Second

// App wires together store, bridge, core and transport layers.
type App struct {
	server          *transporthttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	listener        *bridge.Listener
	store           store.Store
	closeLimiter    func() error
	log             *zerolog.Logger
}

// OpenStore opens the configured message store and brings its schema up to date.
// For postgres in listen mode it also installs the notification triggers.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		logger.Info().Str("db_path", cfg.Database.Path).Msg("database initialized")
		return st, nil
	case config.DriverPostgres:
		st, err := gormstore.OpenPostgres(cfg.Database.URL, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		if cfg.Delivery.Mode == config.DeliveryListen {
			if err := st.InstallNotifyTrigger(ctx, cfg.Delivery.Channel); err != nil {
				_ = st.Close()
				return nil, err
			}
			logger.Info().Str("channel", cfg.Delivery.Channel).Msg("notification triggers installed")
		}
		logger.Info().Msg("database initialized")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	hub := core.NewHub(applog.Component(logger, "hub"), core.Options{
		DedupSize: cfg.Delivery.DedupSize,
		DedupTTL:  cfg.Delivery.DedupTTL,
	})

	// Exactly one delivery path feeds the hub.
	var (
		messageStore store.Store = st
		listener     *bridge.Listener
	)
	bridgeLog := applog.Component(logger, "bridge")
	switch cfg.Delivery.Mode {
	case config.DeliveryListen:
		listener = bridge.NewPQListener(cfg.Database.URL, bridge.ListenerConfig{
			Channel:        cfg.Delivery.Channel,
			ReconnectDelay: cfg.Delivery.ReconnectDelay,
		}, st, hub, bridgeLog)
	default:
		messageStore = bridge.NewHookStore(st, hub, bridgeLog)
	}
	logger.Info().Str("mode", cfg.Delivery.Mode).Msg("delivery bridge configured")

	limiter, closeLimiter := ratelimit.New(ctx, ratelimit.Options{
		MessagesPerMinute: cfg.RateLimit.MessagesPerMinute,
		RedisAddr:         cfg.RateLimit.RedisAddr,
		RedisPassword:     cfg.RateLimit.RedisPassword,
	}, logger)

	var jwtConfig *auth.JWTConfig
	if cfg.JWTSecret != "" {
		jwtConfig = &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			TTL:      cfg.JWTTTL,
		}
	} else {
		logger.Warn().Msg("jwt_secret not set, trusting X-User-ID for caller identity")
	}

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Messages: messaging.New(messageStore, applog.Component(logger, "messaging")),
		Users:    st,
		Limiter:  limiter,
		JWT:      jwtConfig,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		listener:        listener,
		store:           st,
		closeLimiter:    closeLimiter,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		if err := a.server.SocketIO.Serve(); err != nil {
			a.log.Warn().Err(err).Msg("socket.io server stopped")
		}
	}()

	if a.listener != nil {
		go func() {
			if err := a.listener.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("notification listener stopped")
			}
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.HTTP.Addr).Msg("http server listening")
		if err := a.server.HTTP.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
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
		if err := a.server.HTTP.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes sockets, the limiter and the database.
func (a *App) cleanup() {
	if err := a.server.SocketIO.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close socket.io server")
	}
	if a.closeLimiter != nil {
		if err := a.closeLimiter(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close rate limiter")
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
