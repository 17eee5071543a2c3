// Package app wires the front desk chat client together with fx.
package app

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/auth"
	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/chat"
	"github.com/lobbybee/frontdesk/internal/config"
	"github.com/lobbybee/frontdesk/internal/dispatch"
	"github.com/lobbybee/frontdesk/internal/lock"
	"github.com/lobbybee/frontdesk/internal/logging"
	"github.com/lobbybee/frontdesk/internal/metrics"
	"github.com/lobbybee/frontdesk/internal/notify"
	"github.com/lobbybee/frontdesk/internal/profile"
	"github.com/lobbybee/frontdesk/internal/restapi"
	"github.com/lobbybee/frontdesk/internal/status"
	"github.com/lobbybee/frontdesk/internal/store"
	"github.com/lobbybee/frontdesk/internal/transport"
)

// Params holds the resolved profile and configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string    // optional override for testing; empty = use default
	Console    io.Writer // optional human-readable log sink
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("frontdesk",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMetrics,
			provideMetricsServer,
			provideTokens,
			provideAPI,
			provideSocket,
			provideCenter,
			provideChat,
			provideDispatcher,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Config.LogLevel, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// processes.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideMetricsServer(p Params, m *metrics.Metrics, logger *zap.Logger) *metrics.Server {
	return metrics.NewServer(p.Config.MetricsAddr, m, logger)
}

func provideTokens(p Params) auth.TokenSource {
	path := p.Config.TokenFile
	if path == "" {
		path = profile.TokenPath(p.Profile)
	}
	return auth.Chain{auth.Static(p.Config.Token), auth.File{Path: path}}
}

func provideAPI(p Params, tokens auth.TokenSource, logger *zap.Logger) *restapi.Client {
	return restapi.New(p.Config.APIURL, tokens, logger.Named("rest"))
}

func provideSocket(p Params, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *transport.Socket {
	return transport.New(p.Config.WSURL, machine, logger.Named("socket"), transport.WithMetrics(m))
}

func provideCenter(p Params, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *notify.Center {
	return notify.New(logger.Named("notify"),
		notify.WithTTL(p.Config.NotificationTTL),
		notify.WithPersister(db),
		notify.WithBus(b),
		notify.WithMetrics(m),
	)
}

func provideChat(p Params, api *restapi.Client, sock *transport.Socket, tokens auth.TokenSource, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *chat.Store {
	return chat.New(api, sock, tokens, logger.Named("chat"),
		chat.WithAckTimeout(p.Config.AckTimeout),
		chat.WithBus(b),
		chat.WithMetrics(m),
	)
}

func provideDispatcher(st *chat.Store, center *notify.Center, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(st, center, logger.Named("dispatch"))
}

type lifecycleDeps struct {
	fx.In

	Server        *Server
	MetricsServer *metrics.Server
	Lock          *lock.Lock
	DB            *store.DB
	Socket        *transport.Socket
	Chat          *chat.Store
	Center        *notify.Center
	Dispatcher    *dispatch.Dispatcher
	Machine       *status.Machine
	Bus           *bus.Bus
	Logger        *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Center.Load(ctx); err != nil {
				logger.Warn("failed to load saved notifications", zap.Error(err))
			}

			d.Chat.SetInboundHandler(d.Dispatcher.Bind(runCtx))

			d.Server.SetChatState(d.Machine.Current())
			d.Server.Watch(runCtx, d.Bus)
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			d.MetricsServer.Start()

			go func() {
				if err := d.Chat.InitChat(runCtx); err != nil {
					logger.Error("chat init failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			d.Socket.Disconnect()
			d.Chat.Close()
			d.Center.Close()
			d.Server.Stop(ctx)
			d.MetricsServer.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
