package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/partscan-backend/api/controllers"
	"github.com/angelmondragon/partscan-backend/api/middleware"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/notifications"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/internal/scan"
	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/redis"
)

// redisStore is the slice of the redis client the HTTP surface needs.
type redisStore interface {
	redis.Pinger
	redis.IdempotencyStore
	FixedWindow(ctx context.Context, scope string, limit int64, window time.Duration) (redis.Window, error)
}

type scanner interface {
	Scan(ctx context.Context, input scan.Input) (*scan.Result, error)
}

type Services struct {
	Inventory inventory.Service
	Requests  requests.Service
	Scanner   scanner
	// Notifications and DeadLetters are optional; their routes are skipped when nil.
	Notifications notifications.Service
	DeadLetters   *outbox.DLQRepository
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	httpMetrics *metrics.HTTPMetrics,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.CORS.AllowedOrigins),
		middleware.Operator(logg),
	)

	scanPolicy := middleware.NewRateLimitPolicy(
		"scan",
		cfg.ScanRateLimit.Window,
		cfg.ScanRateLimit.OperatorLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/parts", func(r chi.Router) {
			r.Get("/", controllers.PartsList(svc.Inventory, logg))
			r.Post("/", controllers.PartCreate(svc.Inventory, logg))
			r.Get("/{partId}", controllers.PartGet(svc.Inventory, logg))
			r.Get("/{partId}/transactions", controllers.PartTransactions(svc.Inventory, logg))
			r.Post("/{partId}/restock", controllers.PartRestock(svc.Inventory, logg))
		})

		r.Route("/products/{productId}/bom", func(r chi.Router) {
			r.Get("/", controllers.ProductTemplateGet(svc.Requests, logg))
			r.Put("/", controllers.ProductTemplatePut(svc.Requests, logg))
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", controllers.RequestList(svc.Requests, logg))
			r.Post("/", controllers.RequestCreate(svc.Requests, logg))
			r.Get("/{requestId}", controllers.RequestGet(svc.Requests, logg))
			r.Get("/{requestId}/progress", controllers.RequestProgress(svc.Requests, logg))
			r.Post("/{requestId}/cancel", controllers.RequestCancel(svc.Requests, logg))
			r.With(middleware.OperatorRateLimit(scanPolicy, redisClient, logg)).
				Post("/{requestId}/scans", controllers.RequestScan(svc.Scanner, logg))
		})

		if svc.Notifications != nil {
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.NotificationsList(svc.Notifications, logg))
				r.Post("/read-all", controllers.NotificationsMarkAllRead(svc.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.NotificationMarkRead(svc.Notifications, logg))
			})
		}

		if svc.DeadLetters != nil {
			r.Route("/outbox/dead-letters", func(r chi.Router) {
				r.Get("/", controllers.DeadLettersList(svc.DeadLetters, logg))
				r.Get("/{eventId}", controllers.DeadLetterGet(svc.DeadLetters, logg))
			})
		}
	})

	return r
}
