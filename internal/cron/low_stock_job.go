package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/payloads"
)

const defaultLowStockBatch = 500

type lowStockLister interface {
	LowStock(ctx context.Context, threshold, limit int) ([]models.Part, error)
}

type depletionEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type LowStockJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Inventory lowStockLister
	Outbox    depletionEmitter
	Threshold int
	BatchSize int
	Metrics   processedRecorder
}

// NewLowStockJob queues one pending stock_depleted event per part at or
// below the threshold.
func NewLowStockJob(params LowStockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Threshold < 0 {
		return nil, fmt.Errorf("threshold cannot be negative")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultLowStockBatch
	}
	return &lowStockJob{
		logg:      params.Logger,
		db:        params.DB,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		threshold: params.Threshold,
		batch:     batch,
		metrics:   params.Metrics,
	}, nil
}

type lowStockJob struct {
	logg      *logger.Logger
	db        txRunner
	inventory lowStockLister
	outbox    depletionEmitter
	threshold int
	batch     int
	metrics   processedRecorder
}

func (j *lowStockJob) Name() string { return "low_stock_report" }

func (j *lowStockJob) Run(ctx context.Context) error {
	parts, err := j.inventory.LowStock(ctx, j.threshold, j.batch)
	if err != nil {
		return fmt.Errorf("list low stock parts: %w", err)
	}

	queued := 0
	var errs error
	for _, part := range parts {
		part := part
		emitted := false
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventStockDepleted,
				AggregateType: enums.AggregatePart,
				AggregateID:   part.PartID,
				Actor:         &outbox.ActorRef{Source: "cron"},
				Data: payloads.StockDepletedEvent{
					PartID:    part.PartID,
					Quantity:  part.Quantity,
					Threshold: j.threshold,
				},
			})
			if err != nil {
				return err
			}
			emitted = ok
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("part %s: %w", part.PartID, err))
			continue
		}
		if emitted {
			queued++
		}
	}
	recordProcessed(j.metrics, j.Name(), queued)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"threshold": j.threshold,
		"low_parts": len(parts),
		"queued":    queued,
	})
	j.logg.Info(logCtx, "low stock report complete")
	return errs
}
