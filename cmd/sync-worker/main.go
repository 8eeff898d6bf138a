package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

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

// The sync worker runs the periodic pulls: the upcoming-appointments report
// on a short cadence and the full recent-patient history sweep on a daily
// one. It submits through its own dispatcher, so the locks it takes contend
// correctly with jobs submitted over the API.
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

	log.Info("sync worker started",
		zap.Duration("upcoming_every", cfg.UpcomingSyncEvery),
		zap.Duration("daily_every", cfg.DailySyncEvery))

	upcoming := time.NewTicker(cfg.UpcomingSyncEvery)
	defer upcoming.Stop()
	daily := time.NewTicker(cfg.DailySyncEvery)
	defer daily.Stop()

	submit := func(name string, args jobs.Args) {
		id, err := dispatcher.Submit(ctx, name, args)
		if err != nil {
			log.Warn("periodic submission failed", zap.String("job", name), zap.Error(err))
			return
		}
		log.Info("periodic job submitted", zap.String("job", name), zap.String("job_id", id))
	}

	// Kick one upcoming sync at startup so a fresh deploy does not wait a
	// full interval for data.
	submit(jobs.JobSyncUpcoming, jobs.Args{"system": string(mirror.SystemPrimary)})

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			dispatcher.Stop()
			return
		case <-upcoming.C:
			submit(jobs.JobSyncUpcoming, jobs.Args{"system": string(mirror.SystemPrimary)})
		case <-daily.C:
			submit(jobs.JobSyncAllRecent, nil)
			submit(jobs.JobSeedPatients, jobs.Args{"system": string(mirror.SystemPrimary)})
			submit(jobs.JobSeedPatients, jobs.Args{"system": string(mirror.SystemLegacy)})
		}
	}
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
