// Package app wires the tide server runtime: config, logging, storage
// backends, HTTP routes, and metrics.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tide/cmd/identity"
	chatapi "tide/cmd/internal/chat/api"
	"tide/cmd/internal/kv"
	"tide/cmd/internal/messages"
	"tide/cmd/internal/presence"
	"tide/cmd/internal/rooms"
)

// App is the tide server runtime: it owns the storage backend lifecycle and
// the HTTP server wiring.
type App struct {
	cfg     Config
	log     Logger
	metrics *Metrics

	store kv.Store
	// backend is the raw store underneath the metrics wrapper; readiness
	// pings go here since the wrapper does not forward Ping.
	backend kv.Store
	dbPool  *pgxpool.Pool

	// durable is false when running on the in-memory store.
	durable bool

	chat *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(); err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	backend, dbPool, durable, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	store := metrics.InstrumentStore(backend)

	users, err := identity.NewStore(store)
	if err != nil {
		closeStore(backend, dbPool)
		return nil, err
	}
	tracker, err := presence.NewTracker(log, store, cfg.PresenceTTL)
	if err != nil {
		closeStore(backend, dbPool)
		return nil, err
	}

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	directory, err := rooms.NewDirectory(log, store, retention)
	if err != nil {
		closeStore(backend, dbPool)
		return nil, err
	}
	msglog, err := messages.NewLog(log, store, messages.Config{
		PartitionMax: cfg.PartitionMax,
		Retention:    retention,
		WindowDays:   cfg.WindowDays,
		WindowLimit:  cfg.WindowLimit,
	})
	if err != nil {
		closeStore(backend, dbPool)
		return nil, err
	}

	chat, err := chatapi.NewHandler(log, chatapi.LoadConfigFromEnv(), users, tracker, directory, msglog)
	if err != nil {
		closeStore(backend, dbPool)
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		store:   store,
		backend: backend,
		dbPool:  dbPool,
		durable: durable,
		chat:    chat,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a)

	var handler http.Handler = mux
	handler = a.metrics.WithHTTPMetrics(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "durable_store", a.durable)

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
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.closeStore()
	a.log.Info("server.stopped")
	return nil
}

// pingStore reports whether the configured backend is reachable.
// The in-memory store is always ready.
func (a *App) pingStore(ctx context.Context) error {
	if a.dbPool != nil {
		return PingDB(ctx, a.dbPool, 2*time.Second)
	}
	if p, ok := a.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *App) closeStore() {
	// Ownership model:
	// - app owns the pgx pool lifecycle; PostgresStore.Close() is a no-op
	// - RedisStore owns its client and closes it here
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func closeStore(store kv.Store, pool *pgxpool.Pool) {
	_ = store.Close()
	if pool != nil {
		pool.Close()
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

// newStore decides between Redis, Postgres, and the in-memory dev store.
// Redis wins when both URLs are set.
func newStore(ctx context.Context, cfg Config, log Logger) (kv.Store, *pgxpool.Pool, bool, error) {
	switch {
	case cfg.RedisURL != "":
		store, err := kv.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, false, err
		}
		log.Info("store.redis")
		return store, nil, true, nil

	case cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, false, err
		}

		store, err := kv.NewPostgresStore(pool, kv.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, nil, false, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, false, err
		}
		log.Info("store.postgres", "schema", cfg.DBSchema)
		return store, pool, true, nil

	default:
		log.Info("store.inmemory")
		return kv.NewMemoryStore(), nil, false, nil
	}
}
