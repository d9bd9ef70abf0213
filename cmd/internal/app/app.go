// Package app wires the communicator server runtime: config, logging, storage, HTTP routes and background sweeps.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"communicator/cmd/identity"
	authapi "communicator/cmd/internal/auth/api"
	"communicator/cmd/internal/messaging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the communicator server runtime. It owns the HTTP server, the storage backends and the sweeper.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	store    messaging.MessageStore
	auth     *authapi.Handler
	msgs     *messaging.Handler
	sweeper  *messaging.Sweeper
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	dir, store, pool, err := newBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := messaging.NewMetrics(reg)
	limiter := messaging.NewSenderLimiter(cfg.SendRatePerSec, cfg.SendBurst)

	svc, err := messaging.NewService(store, dir,
		messaging.WithLogger(log),
		messaging.WithMetrics(metrics),
		messaging.WithLimiter(limiter),
	)
	if err != nil {
		closePool(pool)
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	if cfg.MaxBodyBytes > 0 {
		authCfg.MaxBodyBytes = cfg.MaxBodyBytes
	}
	auth, err := authapi.NewHandler(log, dir, authCfg)
	if err != nil {
		closePool(pool)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    pool,
		dbEnabled: pool != nil,
		registry:  reg,
		store:     store,
		auth:      auth,
		msgs:      messaging.NewHandler(log, svc, cfg.MaxBodyBytes),
		sweeper: messaging.NewSweeper(log, store, cfg.IdempotencySweepInterval,
			messaging.WithSweepMetrics(metrics),
			messaging.WithSweepLimiter(limiter),
		),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.auth, a.msgs)

	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

// Run serves HTTP and sweeps idempotency keys until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"db_enabled", a.dbEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	if cerr := a.store.Close(); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}
	closePool(a.dbPool)

	a.log.Info("server.stopped")
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newBackends picks Postgres when COMM_DATABASE_URL is set and in-memory storage otherwise.
// The app owns the returned pool; stores never close it.
func newBackends(ctx context.Context, cfg Config, log Logger) (identity.Directory, messaging.MessageStore, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return identity.NewInMemoryDirectory(),
			messaging.NewInMemoryStore(messaging.WithMemoryIdempotencyTTL(cfg.IdempotencyTTL)),
			nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.DBAutoMigrate {
		if err := Migrate(ctx, pool, cfg.DBSchema); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		log.Info("db.migrated", "schema", cfg.DBSchema)
	}

	dir, err := identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	store, err := messaging.NewPostgresStore(pool,
		messaging.WithSchema(cfg.DBSchema),
		messaging.WithIdempotencyTTL(cfg.IdempotencyTTL),
	)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return dir, store, pool, nil
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
