// Package app wires the bazaar server runtime: config, logging, storage, notifications and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"bazaar/cmd/internal/api"
	"bazaar/cmd/internal/auth"
	"bazaar/cmd/internal/messaging"
	"bazaar/cmd/internal/metrics"
	"bazaar/cmd/internal/notify"
	"bazaar/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the bazaar server runtime: it owns the HTTP server and the resources behind it.
type App struct {
	cfg Config
	log Logger

	store    messaging.Store
	notifier *notify.KafkaNotifier

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *metrics.Metrics
	handler *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	verifier, err := auth.NewPasetoVerifier(cfg.AuthConfig())
	if err != nil {
		return nil, err
	}

	st, dbPool, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbPool != nil,
		metrics:   metrics.New(),
	}

	var notifier messaging.Notifier = messaging.LogNotifier{Log: log}
	if len(cfg.KafkaBrokers) > 0 {
		kn, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, notify.NewProducerConfig("bazaar"))
		if err != nil {
			a.closeResources()
			return nil, err
		}
		log.Info("notify.kafka.enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		a.notifier = kn
		notifier = kn
	}

	svc, err := messaging.NewService(st,
		messaging.WithNotifier(notifier),
		messaging.WithMetrics(a.metrics),
		messaging.WithLogger(log),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	engine, err := realtime.NewEngine(svc, realtime.NewPresence(cfg.PresenceTTL, nil),
		realtime.WithInterval(cfg.PollInterval),
		realtime.WithMaxWaiters(int64(cfg.PollMaxWaiters)),
		realtime.WithEngineMetrics(a.metrics),
		realtime.WithEngineLogger(log),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.handler, err = api.NewHandler(log, svc, engine, verifier, api.Config{
		MaxBodyBytes: cfg.MaxBodyBytes,
		SendRPS:      cfg.SendRPS,
		SendBurst:    cfg.SendBurst,
	})
	if err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.handler)
	return WithRequestID(WithRequestLogging(mux, a.log, a.metrics))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 75*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		// Long-poll waiters stop when the server shuts down.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "kafka_enabled", a.notifier != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeResources()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeResources()
		return err
	}

	a.closeResources()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Error("notify.close.fail", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
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

// newStore decides between Postgres-backed persistence and the in-memory dev store.
// The returned pool is nil in memory mode. The app owns the pool; PostgresStore.Close is a no-op.
func newStore(ctx context.Context, cfg Config, log Logger) (messaging.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return messaging.NewInMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := messaging.NewPostgresStore(pool, messaging.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if cfg.DBAutoMigrate {
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Info("db.schema.ensured", "schema", cfg.DBSchema)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, pool, nil
}
