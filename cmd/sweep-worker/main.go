package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pallet-works/stockroom-backend/internal/cron"
	"github.com/pallet-works/stockroom-backend/internal/inventory"
	"github.com/pallet-works/stockroom-backend/pkg/config"
	"github.com/pallet-works/stockroom-backend/pkg/db"
	"github.com/pallet-works/stockroom-backend/pkg/lock"
	"github.com/pallet-works/stockroom-backend/pkg/logger"
	"github.com/pallet-works/stockroom-backend/pkg/metrics"
	"github.com/pallet-works/stockroom-backend/pkg/migrate"
	"github.com/pallet-works/stockroom-backend/pkg/redis"
)

const cycleLockFormat = "sweep-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweep-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweep-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweep-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	lockMetrics := metrics.NewLockMetrics(prometheus.DefaultRegisterer)
	itemLocker, err := lock.NewLocker(redisClient, logg, lockMetrics, lock.Options{
		TTL:         cfg.Lock.TTL,
		MaxRetries:  cfg.Lock.MaxRetries,
		BackoffBase: cfg.Lock.BackoffBase,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create item locker", err)
		os.Exit(1)
	}

	repo := inventory.NewRepository(dbClient.DB())
	inventoryService, err := inventory.NewService(inventory.Params{
		Tx:             dbClient,
		Repo:           repo,
		Locker:         itemLocker,
		Logger:         logg,
		ReservationTTL: cfg.Reservation.TTL,
		ExtendMargin:   cfg.Lock.ExtendMargin,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	// Cycle locker gives up after one attempt; a busy lock means another
	// replica owns this cycle.
	cycleLocker, err := lock.NewLocker(redisClient, logg, lockMetrics, lock.Options{
		TTL:        cfg.Sweep.LockTTL,
		MaxRetries: 1,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cycle locker", err)
		os.Exit(1)
	}
	cycleLock, err := cron.NewLeaseLock(cycleLocker, cycleLockKey(cfg.App.Env))
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewReservationExpiryJob(inventoryService, logg, cfg.Sweep.BatchSize)
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}
	lowStockJob, err := cron.NewLowStockJob(inventoryService, repo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create low stock job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(expiryJob, lowStockJob),
		Lock:       cycleLock,
		Metrics:    metrics.NewSweepJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Sweep.Interval,
		Counter:    redisClient,
		CounterKey: redisClient.CounterKey("sweep_runs"),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweep worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweep worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweep worker shutting down gracefully")
}

func cycleLockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(cycleLockFormat, env)
}
