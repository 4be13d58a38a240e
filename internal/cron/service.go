package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
)

const (
	defaultInterval    = 15 * time.Minute
	lockReleaseTimeout = 5 * time.Second
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job; it defaults to Interval.
	JobTimeout time.Duration
}

// Service runs the registered jobs under a cluster-wide lock on a fixed cadence.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = s.interval
	}
	return s, nil
}

// RunOnce runs one cycle and returns every job failure combined, so a
// one-shot invocation exits non-zero when any job failed.
func (s *Service) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.runCycle(ctx)
}

// Run cycles immediately and then every interval until ctx ends. Job failures
// are logged and do not stop the loop.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle finished with failures", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) (err error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance holds the lock; skipping cycle")
		return nil
	}
	defer func() {
		// released even when ctx was cancelled mid-cycle
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if relErr := s.lock.Release(releaseCtx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	started := time.Now()
	s.logg.Info(s.logg.WithField(ctx, "jobs", s.registry.Names()), "cron cycle starting")
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			err = multierr.Append(err, ctx.Err())
			break
		}
		err = multierr.Append(err, s.runJob(ctx, job))
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"duration_ms": time.Since(started).Milliseconds(),
		"failed_jobs": len(multierr.Errors(err)),
	}), "cron cycle complete")
	return err
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		duration := time.Since(start)
		s.metrics.ObserveRun(name, duration, err)
		logCtx := s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			s.logg.Error(logCtx, "job failed", err)
			return
		}
		s.logg.Info(logCtx, "job completed")
	}()

	return job.Run(jobCtx)
}
