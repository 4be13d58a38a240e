package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/partscan-backend/internal/bootstrap"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/registry"
)

func main() {
	rt := bootstrap.Start(context.Background(), "outbox-publisher")
	defer rt.Close()
	cfg := rt.Config
	pubsubClient := rt.PubSub(context.Background())

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	rt.Must(err, "failed to build event registry")

	reg := rt.Metrics()
	service, err := NewService(ServiceParams{
		Outbox:     cfg.Outbox,
		Logger:     rt.Logger,
		DB:         rt.DB,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Registry:   eventRegistry,
		DLQ:        outbox.NewDLQRepository(rt.DB.DB()),
		Metrics:    metrics.NewOutboxMetrics(reg),
	})
	rt.Must(err, "failed to create outbox publisher")

	ctx, stop := rt.SignalContext(nil)
	defer stop()
	rt.ServeMetrics(ctx, ":"+cfg.App.Port, reg)

	rt.Logger.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(err, "outbox publisher stopped unexpectedly")
	}
	rt.Logger.Info(ctx, "outbox publisher shutting down gracefully")
}
