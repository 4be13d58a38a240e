package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	dbpkg "github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/payloads"
)

// Outcome labels a finished scan for metrics and logs.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeInvalid           Outcome = "invalid"
	OutcomeUnknownPart       Outcome = "unknown_part"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeRequestNotOpen    Outcome = "request_not_open"
	OutcomeNoMatchingItem    Outcome = "no_matching_item"
	OutcomeInsufficientStock Outcome = "insufficient_stock"
	OutcomeStoreUnavailable  Outcome = "store_unavailable"
	OutcomeCanceled          Outcome = "canceled"
	OutcomeError             Outcome = "error"
)

type inventoryManager interface {
	GetPartTx(ctx context.Context, tx *gorm.DB, partID string) (*models.Part, error)
	AdjustTx(ctx context.Context, tx *gorm.DB, input inventory.AdjustInput) (*inventory.AdjustResult, error)
	ObserveCommitted(delta int)
}

type requestTracker interface {
	LockRequestForScanTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (*models.BomRequest, error)
	FindMatchingItemTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, partID string) (*models.RequestItem, error)
	RecordScanTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, partID string) (*models.RequestItem, error)
	CompleteIfDoneTx(ctx context.Context, tx *gorm.DB, request *models.BomRequest, source string, actor *outbox.ActorRef) (bool, requests.Progress, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Input identifies one physical scan of a part against a request.
type Input struct {
	RequestID uuid.UUID
	PartID    string
	Operator  string
}

// Result describes an accepted scan.
type Result struct {
	RequestID     uuid.UUID           `json:"request_id"`
	PartID        string              `json:"part_id"`
	ItemID        int64               `json:"item_id"`
	ScannedQty    int                 `json:"scanned_qty"`
	QtyNeeded     int                 `json:"qty_needed"`
	Remaining     int                 `json:"remaining"`
	PartQuantity  int                 `json:"part_quantity"`
	TransactionID int64               `json:"transaction_id"`
	RequestStatus enums.RequestStatus `json:"request_status"`
	Progress      requests.Progress   `json:"progress"`
}

type CoordinatorParams struct {
	TxRunner  dbpkg.TxRunner
	Inventory inventoryManager
	Requests  requestTracker
	Outbox    outboxPublisher
	Metrics   *metrics.ScanMetrics
	Logger    *logger.Logger
}

// Coordinator turns a scan into one atomic stock decrement plus progress increment.
type Coordinator struct {
	tx        dbpkg.TxRunner
	inventory inventoryManager
	requests  requestTracker
	outbox    outboxPublisher
	metrics   *metrics.ScanMetrics
	logg      *logger.Logger
}

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory manager required")
	}
	if params.Requests == nil {
		return nil, fmt.Errorf("request tracker required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Coordinator{
		tx:        params.TxRunner,
		inventory: params.Inventory,
		requests:  params.Requests,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// Reason is the ledger reason written for a scan against requestID.
func Reason(requestID uuid.UUID) string {
	return fmt.Sprintf("Request %s scan", requestID)
}

// Scan validates the part, matches an open item and commits the decrement and
// increment together. Any rejection leaves the store untouched.
func (c *Coordinator) Scan(ctx context.Context, input Input) (*Result, error) {
	started := time.Now()
	input.PartID = strings.TrimSpace(input.PartID)
	input.Operator = strings.TrimSpace(input.Operator)

	var result *Result
	err := validateInput(input)
	if err == nil {
		err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
			res, err := c.attempt(ctx, tx, input)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	}
	if err != nil {
		result = nil
	} else {
		c.inventory.ObserveCommitted(-1)
	}

	outcome := OutcomeOf(err)
	c.metrics.Observe(string(outcome), time.Since(started))
	c.logOutcome(ctx, input, outcome, result, err)
	return result, err
}

func (c *Coordinator) attempt(ctx context.Context, tx *gorm.DB, input Input) (*Result, error) {
	// validating
	if _, err := c.inventory.GetPartTx(ctx, tx, input.PartID); err != nil {
		return nil, err
	}

	// matching; the request row stays locked until commit so a concurrent
	// cancel lands either before or after this scan
	request, err := c.requests.LockRequestForScanTx(ctx, tx, input.RequestID)
	if err != nil {
		return nil, err
	}
	if _, err := c.requests.FindMatchingItemTx(ctx, tx, input.RequestID, input.PartID); err != nil {
		return nil, err
	}

	// committing: stock first, so a short part never touches progress
	requestID := input.RequestID
	adjusted, err := c.inventory.AdjustTx(ctx, tx, inventory.AdjustInput{
		PartID:    input.PartID,
		Delta:     -1,
		Reason:    Reason(requestID),
		RequestID: &requestID,
		Operator:  input.Operator,
	})
	if err != nil {
		return nil, err
	}
	item, err := c.requests.RecordScanTx(ctx, tx, requestID, input.PartID)
	if err != nil {
		return nil, err
	}

	actor := &outbox.ActorRef{Operator: input.Operator, Source: "scan"}
	_, progress, err := c.requests.CompleteIfDoneTx(ctx, tx, request, requests.FulfilledByScan, actor)
	if err != nil {
		return nil, err
	}

	if err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventScanAccepted,
		AggregateType: enums.AggregateBomRequest,
		AggregateID:   requestID.String(),
		Actor:         actor,
		Data: payloads.ScanAcceptedEvent{
			RequestID:     requestID,
			PartID:        input.PartID,
			ItemID:        item.ID,
			ScannedQty:    item.ScannedQty,
			QtyNeeded:     item.QtyNeeded,
			PartQuantity:  adjusted.NewQuantity,
			TransactionID: adjusted.Transaction.ID,
			Operator:      input.Operator,
		},
	}); err != nil {
		return nil, fmt.Errorf("emit scan accepted: %w", err)
	}

	return &Result{
		RequestID:     requestID,
		PartID:        input.PartID,
		ItemID:        item.ID,
		ScannedQty:    item.ScannedQty,
		QtyNeeded:     item.QtyNeeded,
		Remaining:     item.Remaining(),
		PartQuantity:  adjusted.NewQuantity,
		TransactionID: adjusted.Transaction.ID,
		RequestStatus: request.Status,
		Progress:      progress,
	}, nil
}

func validateInput(input Input) error {
	if input.RequestID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request_id is required")
	}
	if input.PartID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "part_id is required")
	}
	return nil
}

// OutcomeOf maps a Scan error onto its outcome label.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeAccepted
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeCanceled
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return OutcomeError
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation:
		return OutcomeInvalid
	case pkgerrors.CodeUnknownPart:
		return OutcomeUnknownPart
	case pkgerrors.CodeNotFound:
		return OutcomeNotFound
	case pkgerrors.CodeRequestNotOpen:
		return OutcomeRequestNotOpen
	case pkgerrors.CodeNoMatchingItem:
		return OutcomeNoMatchingItem
	case pkgerrors.CodeInsufficientStock:
		return OutcomeInsufficientStock
	case pkgerrors.CodeStoreUnavailable:
		return OutcomeStoreUnavailable
	}
	return OutcomeError
}

func (c *Coordinator) logOutcome(ctx context.Context, input Input, outcome Outcome, result *Result, err error) {
	if c.logg == nil {
		return
	}
	logCtx := c.logg.WithBomRequestID(ctx, input.RequestID.String())
	logCtx = c.logg.WithPartID(logCtx, input.PartID)
	if input.Operator != "" {
		logCtx = c.logg.WithOperator(logCtx, input.Operator)
	}
	logCtx = c.logg.WithField(logCtx, "outcome", string(outcome))

	switch outcome {
	case OutcomeAccepted:
		logCtx = c.logg.WithFields(logCtx, map[string]any{
			"scanned_qty":   result.ScannedQty,
			"remaining":     result.Remaining,
			"part_quantity": result.PartQuantity,
		})
		c.logg.Info(logCtx, "scan accepted")
	case OutcomeStoreUnavailable, OutcomeError:
		c.logg.Error(logCtx, "scan failed", err)
	default:
		logCtx = c.logg.WithField(logCtx, "error", err.Error())
		c.logg.Warn(logCtx, "scan rejected")
	}
}
