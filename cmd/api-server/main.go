package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/api"
	"github.com/clinicops/portal-sync/internal/config"
	"github.com/clinicops/portal-sync/internal/db"
	"github.com/clinicops/portal-sync/internal/jobs"
	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/portal"
	"github.com/clinicops/portal-sync/internal/reconcile"
	redisclient "github.com/clinicops/portal-sync/internal/redis"
	"github.com/clinicops/portal-sync/internal/scheduling"
	"github.com/clinicops/portal-sync/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Env)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	drivers, err := newDriverFactory(cfg)
	if err != nil {
		log.Fatal("portal driver", zap.Error(err))
	}

	repo := mirror.NewPgRepository(pool)
	engine := reconcile.NewEngine(repo, log)
	locker := redisclient.NewRedisLocker(rdb)
	store := jobs.NewRedisStore(rdb, cfg.JobResultTTL)

	dispatcher := jobs.NewDispatcher(jobs.Options{
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.QueueDepth,
		SoftLimit: cfg.JobSoftLimit,
		HardLimit: cfg.JobHardLimit,
		LockWait:  cfg.LockAcquireWait,
		LockLease: cfg.LockLease,
	}, store, locker, log)

	jobs.RegisterAll(dispatcher, jobs.Services{
		Scheduling: scheduling.NewService(drivers, log),
		Syncer:     syncer.NewService(drivers, repo, engine, cfg.PageCap, cfg.SyncDaysBack, log),
		Repo:       repo,
	})
	dispatcher.Start(ctx)

	router := api.NewRouter(log,
		api.NewHealthHandler(pool, rdb),
		api.NewJobHandler(dispatcher, store, log))

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info("api server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	dispatcher.Stop()
}

func newLogger(env string) *zap.Logger {
	if env == "prod" {
		log, err := zap.NewProduction()
		if err != nil {
			fmt.Fprintln(os.Stderr, "logger:", err)
			os.Exit(1)
		}
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}

func newDriverFactory(cfg config.Config) (portal.DriverFactory, error) {
	switch cfg.PortalDriver {
	case "fake":
		backend := portal.NewFakeBackend(cfg.PortalUser, cfg.PortalPassword)
		return backend.Driver, nil
	default:
		return nil, fmt.Errorf("unknown portal driver %q", cfg.PortalDriver)
	}
}
