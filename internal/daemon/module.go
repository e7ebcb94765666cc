// Package daemon composes the cache engine, its HTTP surface and the gRPC
// health endpoint into one fx application per workspace.
package daemon

import (
	"context"

	"github.com/matheus3301/deskcache/internal/api"
	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/config"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/journal"
	"github.com/matheus3301/deskcache/internal/lock"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/proxy"
	"github.com/matheus3301/deskcache/internal/refresh"
	"github.com/matheus3301/deskcache/internal/remote"
	"github.com/matheus3301/deskcache/internal/scheduler"
	"github.com/matheus3301/deskcache/internal/search"
	"github.com/matheus3301/deskcache/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved workspace configuration passed to the fx module.
type Params struct {
	Workspace string
	Config    *config.Config
	// SocketPath overrides the workspace socket; empty = use default.
	SocketPath string
	// HTTPAddr overrides http.addr; empty = use config.
	HTTPAddr string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideRemote,
			provideOrchestrator,
			provideHydrator,
			provideSearch,
			provideProxy,
			provideJournal,
			provideRecorder,
			provideScheduler,
			provideHandler,
			provideHTTPServer,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(workspace.LogPath(p.Workspace), p.Workspace, p.Config.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.Workspace); err != nil {
		return nil, err
	}
	logger.Info("acquiring workspace lock", zap.String("workspace", p.Workspace))
	l, err := lock.Acquire(workspace.Dir(p.Workspace), p.Workspace)
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func provideCache(b *bus.Bus) *cache.Store {
	return cache.New(b)
}

func provideRemote(p Params, logger *zap.Logger) *remote.Client {
	return remote.New(remote.OptionsFromConfig(p.Config.Remote), logger.Named("remote"))
}

func provideOrchestrator(p Params, client *remote.Client, store *cache.Store, b *bus.Bus, logger *zap.Logger) *refresh.Orchestrator {
	return refresh.New(client, store, b, logger.Named("refresh"), refresh.Options{
		Timeout:  p.Config.Refresh.Timeout,
		MaxPages: p.Config.Remote.MaxPages,
	})
}

func provideHydrator(p Params, client *remote.Client, store *cache.Store, b *bus.Bus, logger *zap.Logger) *hydrate.Hydrator {
	h := p.Config.Hydration
	return hydrate.New(client, store, b, logger.Named("hydrate"), hydrate.Options{
		Concurrency:     h.Concurrency,
		Staleness:       h.Staleness,
		CheckpointEvery: h.CheckpointEvery,
		MaxPerRun:       h.MaxPerRun,
	})
}

func provideSearch(store *cache.Store, client *remote.Client) *search.Index {
	return search.New(store.Contacts, client)
}

func provideProxy(client *remote.Client) *proxy.Gateway {
	return proxy.New(client)
}

// provideJournal depends on the lock so the database is only opened by
// the daemon that owns the workspace.
func provideJournal(p Params, _ *lock.Lock, logger *zap.Logger) (*journal.DB, error) {
	path := workspace.JournalPath(p.Workspace)
	db, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal initialized", zap.String("path", path))
	return db, nil
}

func provideRecorder(db *journal.DB, b *bus.Bus, logger *zap.Logger) *journal.Recorder {
	return journal.NewRecorder(db, b, logger.Named("journal"))
}

func provideScheduler(p Params, orch *refresh.Orchestrator, hyd *hydrate.Hydrator, b *bus.Bus, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(orch, hyd, b, logger.Named("scheduler"), scheduler.Options{
		Interval: p.Config.Refresh.Interval,
		OnStart:  p.Config.Refresh.OnStart,
	})
}

func provideHandler(
	p Params,
	store *cache.Store,
	orch *refresh.Orchestrator,
	hyd *hydrate.Hydrator,
	idx *search.Index,
	gw *proxy.Gateway,
	db *journal.DB,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Handler {
	if p.Config.HTTP.WebhookSecret == "" {
		logger.Warn("http.webhook_secret is empty, webhooks will be rejected")
	}
	return api.NewHandler(api.Deps{
		Store:         store,
		Refresher:     orch,
		Hydration:     hyd,
		Search:        idx,
		Proxy:         gw,
		History:       db,
		Bus:           b,
		WebhookSecret: p.Config.HTTP.WebhookSecret,
		Logger:        logger.Named("http"),
	})
}

func provideHTTPServer(p Params, h *api.Handler, logger *zap.Logger) (*HTTPServer, error) {
	addr := p.HTTPAddr
	if addr == "" {
		addr = p.Config.HTTP.Addr
	}
	return NewHTTPServer(addr, h.Router(), p.Config.HTTP.ShutdownTimeout, logger)
}

func provideServer(p Params, _ *lock.Lock, store *cache.Store, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = workspace.SocketPath(p.Workspace)
	}
	return NewServer(socketPath, store, b, logger)
}

// components are the long-running pieces registerLifecycle starts and stops.
type components struct {
	fx.In

	Lock      *lock.Lock
	Server    *Server
	HTTP      *HTTPServer
	Journal   *journal.DB
	Recorder  *journal.Recorder
	Scheduler *scheduler.Scheduler
	Refresh   *refresh.Orchestrator
	Hydrator  *hydrate.Hydrator
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	logger := c.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Recorder first so the first refresh is journaled.
			c.Recorder.Start(context.Background())

			go func() {
				if err := c.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := c.HTTP.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()

			c.Scheduler.Start(context.Background())
			logger.Info("daemon started", zap.String("http", c.HTTP.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Scheduler.Stop()
			if err := c.HTTP.Stop(ctx); err != nil {
				logger.Warn("error stopping HTTP server", zap.Error(err))
			}
			c.Hydrator.Stop()
			c.Refresh.Stop()
			c.Server.Stop(ctx)
			c.Recorder.Stop()
			if err := c.Journal.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
