package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/conn"
	"github.com/matheus3301/wppcrm/internal/credstore"
	"github.com/matheus3301/wppcrm/internal/ingest"
	"github.com/matheus3301/wppcrm/internal/lock"
	"github.com/matheus3301/wppcrm/internal/logging"
	"github.com/matheus3301/wppcrm/internal/pairing"
	"github.com/matheus3301/wppcrm/internal/push"
	"github.com/matheus3301/wppcrm/internal/session"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config

	// Optional overrides for tests.
	Logger   *zap.Logger
	Client   wa.Client
	Listener net.Listener
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCredentials,
			provideClient,
			providePresenter,
			providePipeline,
			provideManager,
			provideHub,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.DeviceDir(p.SessionName), p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbCfg := p.Config.Database
	var (
		db  *store.DB
		err error
	)
	if dbCfg.Driver == config.DriverSQLite && dbCfg.DSN == "" {
		path := session.AppDBPath(p.SessionName)
		db, err = store.OpenSQLite(path)
		logger.Info("opening store", zap.String("driver", dbCfg.Driver), zap.String("path", path))
	} else {
		db, err = store.Open(dbCfg.Driver, dbCfg.DSN)
		logger.Info("opening store", zap.String("driver", dbCfg.Driver))
	}
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
	return db, nil
}

// credentialBackend is the selected credential store plus its cleanup.
type credentialBackend struct {
	fx.Out

	Store  credstore.Store
	Closer io.Closer `name:"credentials_closer"`
}

func provideCredentials(p Params, db *store.DB, logger *zap.Logger) (credentialBackend, error) {
	cc := p.Config.Credentials
	prefix := cc.Prefix
	if prefix == "" {
		prefix = "wppcrm/" + p.SessionName
	}

	var (
		backend credstore.Store
		closer  io.Closer
	)
	switch cc.Backend {
	case config.BackendSQL:
		backend = credstore.NewSQL(db, prefix)
	case config.BackendS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s3Store, err := credstore.NewS3(ctx, credstore.S3Config{
			Bucket:       cc.S3.Bucket,
			Prefix:       prefix,
			Region:       cc.S3.Region,
			Endpoint:     cc.S3.Endpoint,
			AccessKey:    cc.S3.AccessKeyID,
			SecretKey:    cc.S3.SecretAccessKey,
			UsePathStyle: cc.S3.UsePathStyle,
		})
		if err != nil {
			return credentialBackend{}, err
		}
		backend = s3Store
	case config.BackendRedis:
		r := credstore.NewRedis(credstore.RedisConfig{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Prefix:   prefix,
		})
		backend, closer = r, r
	case config.BackendMemory:
		logger.Warn("credentials kept in memory only, pairing is lost on restart")
		backend = credstore.NewMemory()
	default:
		return credentialBackend{}, fmt.Errorf("unknown credential backend %q", cc.Backend)
	}
	logger.Info("credential store ready", zap.String("backend", cc.Backend), zap.String("prefix", prefix))
	return credentialBackend{Store: credstore.Guard(backend, logger), Closer: closer}, nil
}

// provideClient takes the lock so nothing touches the device directory
// before it is held.
func provideClient(p Params, _ *lock.Lock, logger *zap.Logger) wa.Client {
	if p.Client != nil {
		return p.Client
	}
	return wa.NewWhatsmeowClient(session.DeviceDir(p.SessionName), "wppcrm", logger)
}

func providePresenter(p Params) *pairing.Presenter {
	pr := pairing.NewPresenter()
	if p.Config.Pairing.QRSize > 0 {
		pr.Size = p.Config.Pairing.QRSize
	}
	return pr
}

func providePipeline(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) (*ingest.Pipeline, error) {
	return ingest.NewPipeline(db, b, logger.Named("ingest"), p.Config.Ingest.DedupCacheSize)
}

func provideManager(p Params, client wa.Client, creds credstore.Store, pr *pairing.Presenter, pipeline *ingest.Pipeline, db *store.DB, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	rc := p.Config.Reconnect
	opts := conn.Options{
		Policy: conn.Policy{
			Delay:       rc.Delay,
			MaxDelay:    rc.MaxDelay,
			Multiplier:  rc.Multiplier,
			MaxAttempts: rc.MaxAttempts,
		},
		SendLimiter: newSendLimiter(p.Config.Send),
	}
	if p.Config.Pairing.PrintTerminal {
		opts.PairingOutput = os.Stderr
	}
	return conn.NewManager(conn.Deps{
		Client:      client,
		Credentials: creds,
		Presenter:   pr,
		Ingester:    pipeline,
		Messages:    db,
		Bus:         b,
		Logger:      logger.Named("conn"),
	}, opts)
}

// newSendLimiter returns nil when throttling is disabled.
func newSendLimiter(cfg config.SendConfig) *rate.Limiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), burst)
}

func provideHub(p Params, b *bus.Bus, mgr *conn.Manager, logger *zap.Logger) *push.Hub {
	return push.NewHub(b, mgr, logger.Named("push"), p.Config.HTTP.AllowedOrigins)
}

func provideHandler(p Params, mgr *conn.Manager, logger *zap.Logger) *api.Handler {
	return api.NewHandler(mgr, p.Config.HTTP.Token, logger.Named("api"))
}

type lifecycleParams struct {
	fx.In

	Params    Params
	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Manager   *conn.Manager
	Hub       *push.Hub
	CredClose io.Closer `name:"credentials_closer" optional:"true"`
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	hubCtx, stopHub := context.WithCancel(context.Background())
	logger := lp.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go lp.Hub.Run(hubCtx)

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			if lp.Params.Config.AutoStart {
				go func() {
					if err := lp.Manager.Start(context.Background()); err != nil {
						logger.Error("auto-start failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lp.Manager.Shutdown()
			lp.Server.Stop(ctx)
			stopHub()
			if lp.CredClose != nil {
				if err := lp.CredClose.Close(); err != nil {
					logger.Warn("error closing credential store", zap.Error(err))
				}
			}
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
