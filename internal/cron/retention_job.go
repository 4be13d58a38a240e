package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PruneFunc deletes rows older than cutoff and reports how many went.
type PruneFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// RetentionTarget is one table the retention job keeps bounded. A zero
// MaxAge disables the target.
type RetentionTarget struct {
	Name   string
	MaxAge time.Duration
	Prune  PruneFunc
}

type RetentionJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Targets []RetentionTarget
	Metrics processedRecorder
}

// NewRetentionJob prunes aged rows from each target in its own transaction.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.DB == nil {
		return nil, errors.New("db runner required")
	}
	targets := make([]RetentionTarget, 0, len(params.Targets))
	for _, target := range params.Targets {
		if target.Prune == nil || target.Name == "" {
			return nil, fmt.Errorf("retention target %q is incomplete", target.Name)
		}
		if target.MaxAge > 0 {
			targets = append(targets, target)
		}
	}
	return &retentionJob{
		logg:    params.Logger,
		db:      params.DB,
		targets: targets,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

type retentionJob struct {
	logg    *logger.Logger
	db      txRunner
	targets []RetentionTarget
	metrics processedRecorder
	now     func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	var total int64
	for _, target := range j.targets {
		cutoff := now.Add(-target.MaxAge)
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := target.Prune(ctx, tx, cutoff)
			deleted = n
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}
		total += deleted
		if deleted > 0 {
			j.logg.Info(j.logg.WithFields(ctx, map[string]any{
				"target":       target.Name,
				"cutoff":       cutoff,
				"rows_deleted": deleted,
			}), "retention pruned rows")
		}
	}
	recordProcessed(j.metrics, j.Name(), int(total))
	return errs
}
