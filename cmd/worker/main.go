package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/partscan-backend/internal/bootstrap"
	"github.com/angelmondragon/partscan-backend/internal/notifications"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/idempotency"
)

func main() {
	rt := bootstrap.Start(context.Background(), "worker")
	defer rt.Close()
	cfg := rt.Config
	redisClient := rt.Redis(context.Background())
	pubsubClient := rt.PubSub(context.Background())

	rt.Must(pubsubClient.EnsureSubscription(context.Background(), cfg.PubSub.AlertsSubscription),
		"alerts subscription unavailable")

	claims, err := idempotency.NewManager(redisClient, cfg.Notifications.ProcessedTTL)
	rt.Must(err, "failed to create event idempotency manager")
	consumer, err := notifications.NewConsumer(
		notifications.NewRepository(rt.DB.DB()),
		pubsubClient.AlertsSubscription(),
		claims,
		rt.Logger,
	)
	rt.Must(err, "failed to create notification consumer")

	service, err := NewService(ServiceParams{
		Logger: rt.Logger,
		Dependencies: []Dependency{
			{Name: "database", Ping: rt.DB.Ping},
			{Name: "redis", Ping: redisClient.Ping},
			{Name: "pubsub", Ping: pubsubClient.Ping},
		},
		Consumers: []Consumer{consumer},
	})
	rt.Must(err, "failed to create worker")

	ctx, stop := rt.SignalContext(map[string]any{"subscription": cfg.PubSub.AlertsSubscription})
	defer stop()

	rt.Logger.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(err, "worker stopped unexpectedly")
	}
	rt.Logger.Info(ctx, "worker shutting down gracefully")
}
