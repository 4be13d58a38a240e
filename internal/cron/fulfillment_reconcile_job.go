package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

const defaultReconcileBatch = 200

type fulfillmentReconciler interface {
	ListOpenComplete(ctx context.Context, limit int) ([]uuid.UUID, error)
	FulfillIfComplete(ctx context.Context, requestID uuid.UUID) (bool, error)
}

type FulfillmentReconcileJobParams struct {
	Logger    *logger.Logger
	Requests  fulfillmentReconciler
	BatchSize int
	Metrics   processedRecorder
}

// NewFulfillmentReconcileJob closes open requests whose items are all scanned
// but whose status was never flipped, e.g. after a manual data fix.
func NewFulfillmentReconcileJob(params FulfillmentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Requests == nil {
		return nil, fmt.Errorf("request service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &fulfillmentReconcileJob{
		logg:     params.Logger,
		requests: params.Requests,
		batch:    batch,
		metrics:  params.Metrics,
	}, nil
}

type fulfillmentReconcileJob struct {
	logg     *logger.Logger
	requests fulfillmentReconciler
	batch    int
	metrics  processedRecorder
}

func (j *fulfillmentReconcileJob) Name() string { return "fulfillment_reconcile" }

func (j *fulfillmentReconcileJob) Run(ctx context.Context) error {
	ids, err := j.requests.ListOpenComplete(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list completed open requests: %w", err)
	}

	fulfilled := 0
	var errs error
	for _, id := range ids {
		done, err := j.requests.FulfillIfComplete(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("request %s: %w", id, err))
			continue
		}
		if done {
			fulfilled++
		}
	}
	recordProcessed(j.metrics, j.Name(), fulfilled)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"fulfilled":  fulfilled,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "fulfillment reconcile complete")
	return errs
}
