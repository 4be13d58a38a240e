package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/partscan-backend/api/routes"
	"github.com/angelmondragon/partscan-backend/internal/bootstrap"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/ledger"
	"github.com/angelmondragon/partscan-backend/internal/notifications"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/internal/scan"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rt := bootstrap.Start(context.Background(), "api")
	defer rt.Close()
	cfg, logg, dbClient := rt.Config, rt.Logger, rt.DB
	redisClient := rt.Redis(context.Background())
	reg := rt.Metrics()

	runner := db.NewRetryingRunner(dbClient, db.PolicyFromConfig(cfg.DB))
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	rt.Must(err, "failed to create ledger service")
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(dbClient.DB()),
		Ledger:     ledgerSvc,
		TxRunner:   runner,
		Outbox:     outboxSvc,
		Metrics:    metrics.NewInventoryMetrics(reg),
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
	coordinator, err := scan.NewCoordinator(scan.CoordinatorParams{
		TxRunner:  runner,
		Inventory: inventorySvc,
		Requests:  requestSvc,
		Outbox:    outboxSvc,
		Metrics:   metrics.NewScanMetrics(reg),
		Logger:    logg,
	})
	rt.Must(err, "failed to create scan coordinator")
	notificationSvc, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	rt.Must(err, "failed to create notification service")

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := rt.SignalContext(map[string]any{"addr": addr})
	defer stop()

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			metrics.NewHTTPMetrics(reg),
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			routes.Services{
				Inventory:     inventorySvc,
				Requests:      requestSvc,
				Scanner:       coordinator,
				Notifications: notificationSvc,
				DeadLetters:   outbox.NewDLQRepository(dbClient.DB()),
			},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logg.Info(ctx, "starting api server")
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			rt.Must(err, "api server stopped unexpectedly")
		}
	case <-ctx.Done():
		logg.Info(ctx, "api server shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}
}
