// Package daemon wires the agent together and manages its lifecycle.
package daemon

import (
	"context"
	"time"

	"github.com/rikseotools/vence-sub014/internal/auth"
	"github.com/rikseotools/vence-sub014/internal/autoreply"
	"github.com/rikseotools/vence-sub014/internal/bus"
	"github.com/rikseotools/vence-sub014/internal/config"
	"github.com/rikseotools/vence-sub014/internal/conn"
	"github.com/rikseotools/vence-sub014/internal/directory"
	"github.com/rikseotools/vence-sub014/internal/dispatch"
	"github.com/rikseotools/vence-sub014/internal/httpapi"
	"github.com/rikseotools/vence-sub014/internal/lock"
	"github.com/rikseotools/vence-sub014/internal/logging"
	"github.com/rikseotools/vence-sub014/internal/monitor"
	"github.com/rikseotools/vence-sub014/internal/profile"
	"github.com/rikseotools/vence-sub014/internal/sessioncrypt"
	"github.com/rikseotools/vence-sub014/internal/status"
	"github.com/rikseotools/vence-sub014/internal/store"
	"github.com/rikseotools/vence-sub014/internal/tg"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile and configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
}

// Module returns the fx module for the agent, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCodec,
			provideDialer,
			provideConnManager,
			providePending,
			provideFlow,
			provideDirectory,
			provideMonitor,
			provideIngester,
			provideDispatcher,
			provideResponder,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
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
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
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

func provideCodec(cfg *config.Config) (*sessioncrypt.Codec, error) {
	return sessioncrypt.New(cfg.SessionSecret)
}

func provideDialer(cfg *config.Config, logger *zap.Logger) *tg.GotdDialer {
	return tg.NewDialer(tg.Options{
		AppID:          cfg.AppID,
		AppHash:        cfg.AppHash,
		RequestTimeout: cfg.RequestTimeout(),
		MaxRetries:     cfg.MaxRetries,
		Logger:         logger.Named("tg"),
	})
}

func provideConnManager(d *tg.GotdDialer, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(d, logger)
}

func providePending() *auth.PendingAuth {
	return auth.NewPendingAuth()
}

func provideFlow(cm *conn.Manager, codec *sessioncrypt.Codec, pending *auth.PendingAuth, db *store.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *auth.Flow {
	return auth.NewFlow(cm, codec, pending, db, machine, b, logger)
}

func provideDirectory(cm *conn.Manager, logger *zap.Logger) *directory.Directory {
	return directory.New(cm, logger)
}

func provideMonitor(cm *conn.Manager, b *bus.Bus, logger *zap.Logger) *monitor.Monitor {
	return monitor.New(cm, b, logger)
}

func provideIngester(db *store.DB, b *bus.Bus, logger *zap.Logger) *monitor.Ingester {
	return monitor.NewIngester(db, b, logger)
}

func provideDispatcher(cm *conn.Manager, db *store.DB, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(cm, db, logger)
}

func provideResponder(mon *monitor.Monitor, disp *dispatch.Dispatcher, b *bus.Bus, logger *zap.Logger) *autoreply.Responder {
	return autoreply.New(mon, disp, b, logger)
}

func provideServer(flow *auth.Flow, cm *conn.Manager, machine *status.Machine, dir *directory.Directory, mon *monitor.Monitor, disp *dispatch.Dispatcher, db *store.DB, cfg *config.Config, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(httpapi.Params{
		Flow:       flow,
		Conns:      cm,
		Machine:    machine,
		Directory:  dir,
		Monitor:    mon,
		Dispatcher: disp,
		DB:         db,
		Config:     cfg,
		Logger:     logger.Named("api"),
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, lk *lock.Lock, flow *auth.Flow, db *store.DB, ingester *monitor.Ingester, responder *autoreply.Responder, mon *monitor.Monitor, cm *conn.Manager, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ingester.Run()
			responder.Run()
			srv.Start()

			// Restore the stored session in the background; the control API
			// is already up and can report progress.
			go autoConnect(flow, db, machine, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mon.Stop()
			responder.Close()
			ingester.Close()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("shutting down control api", zap.Error(err))
			}
			cm.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("releasing profile lock", zap.Error(err))
			}
			logger.Info("agent stopped")
			return nil
		},
	})
}

func autoConnect(flow *auth.Flow, db *store.DB, machine *status.Machine, logger *zap.Logger) {
	cred, err := db.LatestCredential()
	if err != nil {
		logger.Error("loading stored credential", zap.Error(err))
		_ = machine.Transition(status.AuthRequired)
		return
	}
	if cred == nil {
		logger.Info("no stored credential, auth required")
		_ = machine.Transition(status.AuthRequired)
		return
	}

	_ = machine.Transition(status.Connecting)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res := flow.ConnectWithSession(ctx, cred.SessionCipher)
	switch {
	case res.Connected:
		logger.Info("session restored",
			zap.String("phone", cred.Phone),
			zap.Int64("user_id", res.Identity.ID))
	case res.NeedsLogin:
		logger.Warn("stored session rejected, auth required", zap.String("error", res.Error))
		_ = machine.Transition(status.AuthRequired)
	default:
		logger.Error("session restore failed", zap.String("error", res.Error))
		_ = machine.Transition(status.Error)
	}
}
