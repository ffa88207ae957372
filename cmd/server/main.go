package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/subosito/gotenv"

	"github.com/zaiko-app/zaiko/internal/auth"
	"github.com/zaiko-app/zaiko/internal/cache"
	"github.com/zaiko-app/zaiko/internal/config"
	"github.com/zaiko-app/zaiko/internal/domain/inventory"
	"github.com/zaiko-app/zaiko/internal/infra/db"
	httpx "github.com/zaiko-app/zaiko/internal/infra/http"
	"github.com/zaiko-app/zaiko/internal/infra/logger"
	"github.com/zaiko-app/zaiko/internal/syncer"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cache.New(afero.NewOsFs(), cfg.Cache.Dir, logger.Component(log, "cache"))
	if err != nil {
		log.Error("cache init failed", "err", err)
		return
	}

	// The remote store may be down at boot; the app still comes up on the
	// local snapshots and the monitor resyncs once it answers.
	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Warn("migrations failed, starting on local data", "err", err)
	} else {
		log.Info("migrations applied")
	}

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("bad postgres dsn", "err", err)
		return
	}
	defer pool.Close()

	remote := inventory.NewPGStore(pool)
	svc := inventory.NewService(remote, store, logger.Component(log, "inventory"))
	svc.LoadLocal()

	monitor := syncer.New(svc, remote, cfg.Sync.ProbeInterval, logger.Component(log, "syncer"))
	go monitor.Run(ctx)

	// Authoritative resync on startup when the remote answers.
	if err := monitor.Sync(ctx, true); err != nil {
		log.Warn("initial sync failed, using local data", "err", err)
	}

	var authClient *auth.Client
	if cfg.Auth.URL != "" {
		authClient = auth.NewClient(cfg.Auth.URL, cfg.Auth.Email)
	}
	gate := auth.NewGate(authClient, cfg.Auth.SharedPassword, logger.Component(log, "auth"))
	sessions := auth.NewSessions(cfg.Auth.SessionTTL)

	api := httpx.NewHandler(svc, monitor, gate, sessions, logger.Component(log, "http"))
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, api)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
