package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/internal/bootstrap"
	"github.com/angelmondragon/partscan-backend/internal/cron"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/ledger"
	"github.com/angelmondragon/partscan-backend/internal/notifications"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	rt := bootstrap.Start(context.Background(), "cron-worker")
	defer rt.Close()
	cfg, logg, dbClient := rt.Config, rt.Logger, rt.DB
	redisClient := rt.Redis(context.Background())

	runner := db.NewRetryingRunner(dbClient, db.PolicyFromConfig(cfg.DB))
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	rt.Must(err, "failed to create ledger service")
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(dbClient.DB()),
		Ledger:     ledgerSvc,
		TxRunner:   runner,
		Outbox:     outboxSvc,
		Logger:     logg,
	})
	rt.Must(err, "failed to create inventory service")
	requestSvc, err := requests.NewService(requests.ServiceParams{
		Repository: requests.NewRepository(dbClient.DB()),
		TxRunner:   runner,
		Outbox:     outboxSvc,
		Logger:     logg,
	})
	rt.Must(err, "failed to create request service")

	reg := rt.Metrics()
	metricsCollector := metrics.NewCronJobMetrics(reg)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	rt.Must(err, "failed to create cron lock")

	reconcileJob, err := cron.NewFulfillmentReconcileJob(cron.FulfillmentReconcileJobParams{
		Logger:   logg,
		Requests: requestSvc,
		Metrics:  metricsCollector,
	})
	rt.Must(err, "failed to create reconcile job")

	lowStockJob, err := cron.NewLowStockJob(cron.LowStockJobParams{
		Logger:    logg,
		DB:        runner,
		Inventory: inventorySvc,
		Outbox:    outboxSvc,
		Threshold: cfg.Cron.LowStockThreshold,
		Metrics:   metricsCollector,
	})
	rt.Must(err, "failed to create low stock job")

	notificationRepo := notifications.NewRepository(dbClient.DB())
	retentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger: logg,
		DB:     runner,
		Targets: []cron.RetentionTarget{
			{
				Name:   "outbox_events",
				MaxAge: config.Days(cfg.Outbox.RetentionDays),
				Prune:  outboxRepo.DeletePublishedBefore,
			},
			{
				Name:   "dead_letters",
				MaxAge: config.Days(cfg.Outbox.DLQRetentionDays),
				Prune:  outbox.NewDLQRepository(dbClient.DB()).DeleteBefore,
			},
			{
				Name:   "notifications",
				MaxAge: cfg.Notifications.ReadRetention,
				Prune: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
					return notificationRepo.WithTx(tx).DeleteReadBefore(ctx, cutoff)
				},
			},
		},
		Metrics: metricsCollector,
	})
	rt.Must(err, "failed to create retention job")
	registry, err := cron.NewRegistry(reconcileJob, lowStockJob, retentionJob)
	rt.Must(err, "failed to register cron jobs")

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	rt.Must(err, "failed to create cron service")

	ctx, stop := rt.SignalContext(map[string]any{"jobs": registry.Names()})
	defer stop()

	if *once {
		logg.Info(ctx, "running cron jobs once")
		rt.Must(service.RunOnce(ctx), "cron run failed")
		return
	}

	rt.ServeMetrics(ctx, ":"+cfg.App.Port, reg)
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(err, "cron worker stopped unexpectedly")
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
