package daemon

import (
	"context"
	"time"

	"github.com/clawapp/claw/internal/bus"
	"github.com/clawapp/claw/internal/config"
	"github.com/clawapp/claw/internal/gateway"
	"github.com/clawapp/claw/internal/lock"
	"github.com/clawapp/claw/internal/logging"
	"github.com/clawapp/claw/internal/queue"
	"github.com/clawapp/claw/internal/session"
	"github.com/clawapp/claw/internal/status"
	"github.com/clawapp/claw/internal/store"
	intsync "github.com/clawapp/claw/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// reconnectDelay spaces out gateway dial attempts after a dropped link.
const reconnectDelay = 3 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	GatewayURL  string // optional override; empty = config.toml, then default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideGateway,
			provideQueue,
			provideSyncEngine,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideGateway(p Params, logger *zap.Logger) *gateway.Client {
	url := p.GatewayURL
	if url == "" {
		if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.GatewayURL != "" {
			url = cfg.GatewayURL
		}
	}
	if url == "" {
		url = config.DefaultGatewayURL
	}
	return gateway.NewClient(url, logger)
}

func provideQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *queue.Queue {
	return queue.New(db, b, logger)
}

func provideSyncEngine(db *store.DB, client *gateway.Client, q *queue.Queue, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, q, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, client *gateway.Client, engine *intsync.Engine, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	var unsub func()
	quit := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to gateway.* bus events).
			engine.Start(context.Background())

			// Route transport status tokens into the state machine.
			handler := gateway.NewStatusHandler(machine, logger)
			client.OnStatusChange(handler.Handle)

			// Mirror connectivity into the health service and retry
			// dropped links.
			var ch <-chan bus.Event
			ch, unsub = b.Subscribe(bus.KindGatewayStatusChanged, 16)
			go func() {
				for {
					select {
					case <-quit:
						return
					case evt := <-ch:
						change, ok := evt.Payload.(status.StatusChange)
						if !ok {
							continue
						}
						srv.SetServing(change.To == status.Ready)
						if change.To == status.Reconnecting {
							go func() {
								select {
								case <-quit:
									return
								case <-time.After(reconnectDelay):
								}
								if err := client.Connect(context.Background()); err != nil {
									logger.Warn("reconnect attempt failed", zap.Error(err))
								}
							}()
						}
					}
				}
			}()

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Dial the gateway. Failures surface as status tokens and
			// feed the reconnect loop above.
			go func() {
				if err := client.Connect(context.Background()); err != nil {
					logger.Warn("initial gateway connect failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(quit)
			if unsub != nil {
				unsub()
			}
			engine.Stop()
			client.Close()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
