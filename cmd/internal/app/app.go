// Package app wires the huddle server runtime: config, logging, storage,
// the auth API and the realtime coordinator behind one HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"huddle/cmd/identity"
	authapi "huddle/cmd/internal/auth/api"
	"huddle/cmd/internal/auth/session"
	"huddle/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP server wiring and the lifecycles behind it.
type App struct {
	cfg Config
	log Logger

	pool  *pgxpool.Pool
	users identity.Store

	registry *realtime.Registry
	handler  http.Handler
}

// New constructs a fully wired App. An empty DatabaseURL selects the memory store.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	sessCfg, ephemeral := cfg.SessionConfig()
	if ephemeral {
		log.Warn("auth.token_key.ephemeral", "hint", "set HUDDLE_TOKEN_SECRET_KEY_HEX so tokens survive restarts")
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("session: %w", err)
	}

	auth, err := authapi.NewHandler(log, a.users, tokens, cfg.PasswordConfig(), cfg.AuthConfig())
	if err != nil {
		a.closeStore()
		return nil, err
	}

	var gatherer prometheus.Gatherer
	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		pr := prometheus.NewRegistry()
		pr.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gatherer, reg = pr, pr
	}

	registry, router := realtime.NewCoordinator(log, realtime.NewMetrics(reg))
	ws, err := realtime.NewWSGateway(log, router, tokens, cfg.GatewayConfig())
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.registry = registry

	rt := routes{
		log:     log,
		cfg:     cfg,
		auth:    auth,
		ws:      ws,
		metrics: gatherer,
	}
	if a.pool != nil {
		pool := a.pool
		rt.ping = func(r *http.Request) error { return PingDB(r.Context(), pool, 2*time.Second) }
	}

	mux := http.NewServeMux()
	registerHTTP(mux, rt)
	a.handler = WithRequestID(WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg.Origins(), log)), log))

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is cancelled or the listener fails.
// On shutdown every realtime connection is closed before the server drains.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil, "ws_require_auth", a.cfg.WSRequireAuth)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	a.registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	a.closeStore()
	a.log.Info("server.stopped")
	return runErr
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.memory_store")
		a.users = identity.NewMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return err
	}
	st, err := identity.NewPostgresStore(pool, a.cfg.identityOptions()...)
	if err != nil {
		pool.Close()
		return err
	}
	if a.cfg.DBAutoMigrate {
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return err
		}
		a.log.Info("db.schema.ensured", "schema", a.cfg.DBSchema)
	}

	a.log.Info("db.enabled.postgres_store")
	a.pool = pool
	a.users = st
	return nil
}

// closeStore releases the pool; the identity store does not own it.
func (a *App) closeStore() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
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
