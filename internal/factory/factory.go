// Package factory wires the server's components from a config.Config.
package factory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/support-chat/internal/api"
	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/chat"
	"github.com/whisper/support-chat/internal/config"
	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/messaging"
	"github.com/whisper/support-chat/internal/moderation"
	"github.com/whisper/support-chat/internal/ratelimit"
	"github.com/whisper/support-chat/internal/safety"
	"github.com/whisper/support-chat/internal/storage"
	"github.com/whisper/support-chat/internal/storage/memory"
	"github.com/whisper/support-chat/internal/storage/postgres"
	"github.com/whisper/support-chat/internal/ws"
)

// App contains all wired application components
type App struct {
	Config config.Config
	Clock  clock.Clock

	// Infrastructure
	Store   storage.Store
	Limiter ratelimit.Limiter
	Redis   *redis.Client
	NATS    *messaging.NATSClient
	Events  *messaging.Events

	// Services
	Issuer        *auth.Issuer
	Authenticator *auth.Authenticator
	Guard         *auth.Guard
	Purger        *auth.Purger
	Sockets       *ws.Server
	Chat          *chat.Service
	Moderation    *moderation.Service

	Router http.Handler
	logger *slog.Logger
}

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	Clock  clock.Clock
	Store  storage.Store
	Logger *slog.Logger
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	app := &App{Config: cfg, Clock: clk, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var err error
	if app.Store = opts.Store; app.Store == nil {
		if app.Store, err = OpenStore(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}

	var window *ratelimit.Window
	if cfg.Redis.Addr != "" {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("factory: redis ping: %w", err)
		}
		app.Limiter = ratelimit.NewRedisLimiter(app.Redis, clk, logger)
	} else {
		window = ratelimit.NewWindow(clk)
		app.Limiter = window
	}

	var pub messaging.Publisher = messaging.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		if app.NATS, err = messaging.NewNATSClient(natsCfg, logger); err != nil {
			return nil, fmt.Errorf("factory: %w", err)
		}
		pub = app.NATS
	}
	app.Events = messaging.NewEvents(pub, logger)

	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("factory: generate secret: %w", err)
		}
		logger.Warn("no auth secret configured, using an ephemeral one")
	}
	app.Issuer = auth.NewIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, clk)
	app.Authenticator = auth.NewAuthenticator(app.Issuer, app.Store, clk, logger)
	app.Guard = auth.NewGuard(app.Authenticator, app.Limiter, app.Events, clk, logger).WithRule(cfg.AuthRule())

	var sweepers []auth.Sweeper
	if window != nil {
		sweepers = append(sweepers, window)
	}
	if app.Purger, err = auth.NewPurger(app.Store, cfg.PurgeCron, clk, logger, sweepers...); err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}

	app.Sockets = ws.NewServer(SocketConfig(cfg), app.Guard, clk, logger)
	dispatcher := ws.NewMessageDispatcher(app.Sockets)
	app.Sockets.RegisterPresenceHandlers(dispatcher)
	app.Sockets.SetMessageHandler(dispatcher.Dispatch)

	app.Chat = chat.NewService(app.Store, app.Limiter, safety.NewDetector(), app.Sockets, app.Events, clk, logger).
		WithSendRule(cfg.MessageRule())
	app.Moderation = moderation.NewService(app.Store, app.Sockets, app.Authenticator, app.Events, clk, logger)

	app.Router = api.NewRouter(api.RouterConfig{
		Logger:     logger,
		Auth:       app.Guard,
		Revoker:    app.Authenticator,
		TrustProxy: cfg.Server.TrustProxy,
		Chat:       app.Chat,
		Moderation: app.Moderation,
		Sockets:    app.Sockets,
		Store:      app.Store,
		RoomID:     cfg.RoomID,
		Advisory:   cfg.ClientRule(),
		Heartbeat:  cfg.Server.HeartbeatInterval,
	})

	ok = true
	return app, nil
}

// OpenStore opens the configured durable store.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		return memory.New(), nil
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = cfg.DSN
		store, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("factory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("factory: unknown storage driver %q", cfg.Driver)
	}
}

// SocketConfig maps the server section onto the WebSocket registry.
func SocketConfig(cfg config.Config) ws.ServerConfig {
	sc := ws.DefaultServerConfig()
	sc.WorkerPoolSize = cfg.Server.WorkerPoolSize
	sc.MaxConnections = cfg.Server.MaxConnections
	sc.ReadTimeout = cfg.Server.ReadTimeout
	sc.WriteTimeout = cfg.Server.WriteTimeout
	sc.TrustProxy = cfg.Server.TrustProxy
	sc.Heartbeat.Interval = cfg.Server.HeartbeatInterval
	sc.Heartbeat.Timeout = cfg.Server.HeartbeatTimeout
	return sc
}

// Close releases every component in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.Sockets != nil {
		a.Sockets.Shutdown()
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
