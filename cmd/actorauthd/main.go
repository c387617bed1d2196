// Command actorauthd serves the actorauth engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/MrEthical07/actorauth"
	"github.com/MrEthical07/actorauth/auditlog"
	"github.com/MrEthical07/actorauth/identity"
	promexport "github.com/MrEthical07/actorauth/metrics/export/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "actorauthd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.RedisAddrs,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	a, err := newApp(ctx, cfg, db, rdb, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: a.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// app owns everything the HTTP layer needs.
type app struct {
	engine    *actorauth.Engine
	registry  *identity.Registry
	auditLog  *auditlog.Store
	metrics   http.Handler
	adminRole string
	ssoSecret string
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg config, db bun.IDB, rdb redis.UniversalClient, logger *slog.Logger) (*app, error) {
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return nil, err
	}
	roles, err := cfg.roleSpecs()
	if err != nil {
		return nil, err
	}
	if cfg.AdminRole != "" && cfg.Roles[cfg.AdminRole] == "" {
		return nil, fmt.Errorf("config: admin role %q is not a configured role", cfg.AdminRole)
	}

	registry := identity.NewRegistry(db)
	if err := registry.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("identity schema: %w", err)
	}

	a := &app{registry: registry, adminRole: cfg.AdminRole, ssoSecret: cfg.SSOUpstreamSecret, logger: logger}

	var sink actorauth.AuditSink = actorauth.NewJSONWriterSink(os.Stderr)
	if cfg.AuditToDB {
		a.auditLog = auditlog.NewStore(db)
		if err := a.auditLog.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		sink = a.auditLog
	}

	a.engine, err = actorauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityStore(registry).
		WithAuditSink(sink).
		WithLogger(logger).
		WithRoles(roles...).
		Build()
	if err != nil {
		return nil, err
	}

	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			promexport.NewExporter(a.engine),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	return a, nil
}

func (a *app) close() {
	a.engine.Close()
}
