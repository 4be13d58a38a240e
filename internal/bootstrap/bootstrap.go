// Package bootstrap wires the resources every binary starts the same way:
// env file, config, logger, database and the optional redis and pubsub clients.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/migrate"
	"github.com/angelmondragon/partscan-backend/pkg/pubsub"
	"github.com/angelmondragon/partscan-backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name string
	c    io.Closer
}

// Runtime owns a binary's long-lived resources and closes them in reverse
// order of acquisition.
type Runtime struct {
	Service string
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client

	closers []closer
}

// Start loads config for the named service, opens the database and applies
// dev migrations when enabled. Failures are logged and exit the process.
func Start(ctx context.Context, service string) *Runtime {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = service

	rt := &Runtime{Service: service, Config: cfg, Logger: logger.ForService(service, cfg.App)}

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	rt.Must(err, "failed to bootstrap database")
	rt.track("database", rt.DB)

	rt.Must(migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB), "failed to run dev migrations")
	return rt
}

// Redis connects the shared redis client.
func (r *Runtime) Redis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, r.Config.Redis, r.Logger)
	r.Must(err, "failed to bootstrap redis")
	r.track("redis", client)
	return client
}

// PubSub connects the Pub/Sub client and checks the configured topics.
func (r *Runtime) PubSub(ctx context.Context) *pubsub.Client {
	client, err := pubsub.NewClient(ctx, r.Config.GCP, r.Config.PubSub, r.Logger)
	r.Must(err, "failed to bootstrap pubsub")
	r.track("pubsub", client)
	return client
}

// Metrics returns a registry carrying the Go runtime and process collectors.
func (r *Runtime) Metrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ServeMetrics exposes reg on addr until ctx ends.
func (r *Runtime) ServeMetrics(ctx context.Context, addr string, reg prometheus.Gatherer) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Error(ctx, "metrics listener stopped", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the service
// log fields plus any extra ones.
func (r *Runtime) SignalContext(fields map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	merged := map[string]any{"env": r.Config.App.Env, "serviceKind": r.Service}
	for k, v := range fields {
		merged[k] = v
	}
	return r.Logger.WithFields(ctx, merged), stop
}

// Must logs err with msg, releases everything acquired so far and exits.
func (r *Runtime) Must(err error, msg string) {
	if err == nil {
		return
	}
	r.Logger.Error(context.Background(), msg, err)
	r.Close()
	os.Exit(1)
}

// Close releases resources newest first and logs a combined failure.
func (r *Runtime) Close() {
	if errs := r.closeAll(); errs != nil {
		r.Logger.Error(context.Background(), "error releasing resources", errs)
	}
}

func (r *Runtime) closeAll() error {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.c.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errs
}

func (r *Runtime) track(name string, c io.Closer) {
	r.closers = append(r.closers, closer{name: name, c: c})
}
