package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxErrorBackoff       = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
	CountPending(tx *gorm.DB) (int64, error)
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher sends to one topic. A nil result means the topic cannot be
// published to at all.
type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Registry   registryResolver
	DLQ        dlqRepository
	Metrics    *metrics.OutboxMetrics
	// NewPublisher overrides how topic publishers are opened; tests use it.
	NewPublisher func(topic string) topicPublisher
}

// Service moves committed outbox rows onto Pub/Sub. Rows are claimed with
// SKIP LOCKED so several publishers can drain the same table.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pubSubClient
	repo         outboxRepository
	registry     registryResolver
	dlq          dlqRepository
	metrics      *metrics.OutboxMetrics
	newPublisher func(topic string) topicPublisher
	publishers   map[string]topicPublisher

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}

	s := &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		repo:         params.Repository,
		registry:     params.Registry,
		dlq:          params.DLQ,
		metrics:      params.Metrics,
		newPublisher: params.NewPublisher,
		publishers:   map[string]topicPublisher{},
		batchSize:    params.Outbox.BatchSize,
		maxAttempts:  params.Outbox.MaxAttempts,
		pollInterval: time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if s.newPublisher == nil {
		s.newPublisher = s.openGCPPublisher
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// Run drains until ctx ends. A full batch is followed immediately by the next
// one; an empty batch waits one poll interval; a failed drain backs off
// exponentially up to maxErrorBackoff.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	defer s.Close()

	idle := retry.WithJitter(jitterWindow, retry.NewConstant(s.pollInterval))
	failing := s.errorBackoff()

	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		summary, err := s.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox drain failed", err)
			wait, _ = failing.Next()
		case summary.claimed > 0:
			failing = s.errorBackoff()
			s.logSummary(ctx, summary)
			continue
		default:
			failing = s.errorBackoff()
			wait, _ = idle.Next()
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) errorBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithJitter(jitterWindow, b)
	return retry.WithCappedDuration(maxErrorBackoff, b)
}

// Close stops every publisher opened so far, flushing buffered messages.
func (s *Service) Close() {
	for topic, p := range s.publishers {
		p.Stop()
		delete(s.publishers, topic)
	}
}

func (s *Service) publisherFor(topic string) topicPublisher {
	if p, ok := s.publishers[topic]; ok {
		return p
	}
	p := s.newPublisher(topic)
	if p != nil {
		s.publishers[topic] = p
	}
	return p
}

func (s *Service) logSummary(ctx context.Context, summary drainSummary) {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"claimed":       summary.claimed,
		"published":     summary.published,
		"retrying":      summary.retrying,
		"dead_lettered": summary.deadLettered,
		"pending":       summary.pending,
	}), "outbox batch drained")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
