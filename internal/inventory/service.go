package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/angelmondragon/partscan-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReasonRestock      = "Restock"
	ReasonInitialStock = "Initial stock"

	// MaxQuantity is the largest on-hand quantity the parts.quantity column holds.
	MaxQuantity = math.MaxInt32

	maxPartIDLen = 64
)

// Service owns part quantities. Every change writes exactly one ledger row.
type Service interface {
	Adjust(ctx context.Context, input AdjustInput) (*AdjustResult, error)
	// AdjustTx applies the change inside the caller's transaction. Callers
	// report the delta through ObserveCommitted once that transaction commits.
	AdjustTx(ctx context.Context, tx *gorm.DB, input AdjustInput) (*AdjustResult, error)
	ObserveCommitted(delta int)
	Restock(ctx context.Context, partID string, qty int, operator string) (*AdjustResult, error)
	CreatePart(ctx context.Context, input CreatePartInput) (*models.Part, error)
	GetPart(ctx context.Context, partID string) (*models.Part, error)
	GetPartTx(ctx context.Context, tx *gorm.DB, partID string) (*models.Part, error)
	ListParts(ctx context.Context, params pagination.Params) (*PartPage, error)
	History(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error)
	LowStock(ctx context.Context, threshold, limit int) ([]models.Part, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// AdjustInput describes one signed quantity change.
type AdjustInput struct {
	PartID    string
	Delta     int
	Reason    string
	RequestID *uuid.UUID
	Operator  string
}

// AdjustResult reports the committed quantity and its ledger row.
type AdjustResult struct {
	PartID      string
	Delta       int
	NewQuantity int
	Transaction *models.InventoryTransaction
}

// CreatePartInput seeds a new part. A positive InitialQty is booked through the ledger.
type CreatePartInput struct {
	PartID     string
	InitialQty int
	Operator   string
}

// PartPage is one page of parts ordered by part id.
type PartPage struct {
	Parts      []models.Part
	NextCursor string
}

type ServiceParams struct {
	Repository Repository
	Ledger     ledger.Service
	TxRunner   dbpkg.TxRunner
	Outbox     outboxPublisher
	Metrics    *metrics.InventoryMetrics
	Logger     *logger.Logger
}

type service struct {
	repo    Repository
	ledger  ledger.Service
	tx      dbpkg.TxRunner
	outbox  outboxPublisher
	metrics *metrics.InventoryMetrics
	logg    *logger.Logger
}

// NewService wires the inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    params.Repository,
		ledger:  params.Ledger,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*AdjustResult, error) {
	var result *AdjustResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.AdjustTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			s.metrics.IncRejection(string(typed.Code()))
		}
		return nil, err
	}

	s.ObserveCommitted(result.Delta)
	if s.logg != nil {
		logCtx := s.logg.WithPartID(ctx, result.PartID)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"delta":          result.Delta,
			"new_quantity":   result.NewQuantity,
			"transaction_id": result.Transaction.ID,
			"reason":         result.Transaction.Reason,
		})
		s.logg.Info(logCtx, "inventory adjusted")
	}
	return result, nil
}

func (s *service) ObserveCommitted(delta int) {
	s.metrics.ObserveAdjustment(delta)
}

func (s *service) AdjustTx(ctx context.Context, tx *gorm.DB, input AdjustInput) (*AdjustResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	partID, err := normalizePartID(input.PartID)
	if err != nil {
		return nil, err
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be nonzero")
	}
	if input.Delta > MaxQuantity || input.Delta < -MaxQuantity {
		return nil, quantityOverflow(partID, input.Delta)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	repo := s.repo.WithTx(tx)
	applied, err := repo.ApplyDelta(ctx, partID, input.Delta)
	if err != nil {
		return nil, fmt.Errorf("apply delta to %s: %w", partID, err)
	}
	if !applied {
		part, err := repo.FindByID(ctx, partID)
		if err != nil {
			return nil, fmt.Errorf("load part %s: %w", partID, err)
		}
		if part == nil {
			return nil, unknownPart(partID)
		}
		if input.Delta > 0 {
			return nil, quantityOverflow(partID, input.Delta)
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("part %s has %d in stock", partID, part.Quantity)).
			WithDetails(map[string]any{
				"part_id":   partID,
				"quantity":  part.Quantity,
				"requested": -input.Delta,
			})
	}

	part, err := repo.FindByID(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("reload part %s: %w", partID, err)
	}
	if part == nil {
		return nil, fmt.Errorf("part %s vanished after update", partID)
	}

	txn, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PartID:    partID,
		ChangeQty: input.Delta,
		Reason:    reason,
		RequestID: input.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("record ledger entry: %w", err)
	}

	actor := actorRef(input.Operator)
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInventoryAdjusted,
		AggregateType: enums.AggregatePart,
		AggregateID:   partID,
		Actor:         actor,
		Data: payloads.InventoryAdjustedEvent{
			PartID:        partID,
			ChangeQty:     input.Delta,
			NewQuantity:   part.Quantity,
			Reason:        txn.Reason,
			TransactionID: txn.ID,
		},
	}); err != nil {
		return nil, fmt.Errorf("emit inventory adjusted: %w", err)
	}

	if input.Delta < 0 && part.Quantity == 0 {
		if _, err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockDepleted,
			AggregateType: enums.AggregatePart,
			AggregateID:   partID,
			Actor:         actor,
			Data:          payloads.StockDepletedEvent{PartID: partID, Quantity: 0, Threshold: 0},
		}); err != nil {
			return nil, fmt.Errorf("emit stock depleted: %w", err)
		}
	}

	return &AdjustResult{
		PartID:      partID,
		Delta:       input.Delta,
		NewQuantity: part.Quantity,
		Transaction: txn,
	}, nil
}

func (s *service) Restock(ctx context.Context, partID string, qty int, operator string) (*AdjustResult, error) {
	if qty <= 0 || qty > MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("restock quantity must be between 1 and %d", MaxQuantity)).
			WithDetails(map[string]any{"qty": qty})
	}
	return s.Adjust(ctx, AdjustInput{
		PartID:   partID,
		Delta:    qty,
		Reason:   ReasonRestock,
		Operator: operator,
	})
}

func (s *service) CreatePart(ctx context.Context, input CreatePartInput) (*models.Part, error) {
	partID, err := normalizePartID(input.PartID)
	if err != nil {
		return nil, err
	}
	if input.InitialQty < 0 || input.InitialQty > MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("initial quantity must be between 0 and %d", MaxQuantity))
	}

	var created *models.Part
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByID(ctx, partID)
		if err != nil {
			return err
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("part %s already exists", partID))
		}

		part := &models.Part{PartID: partID}
		if err := repo.Create(ctx, part); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("part %s already exists", partID))
			}
			return err
		}
		if input.InitialQty > 0 {
			res, err := s.AdjustTx(ctx, tx, AdjustInput{
				PartID:   partID,
				Delta:    input.InitialQty,
				Reason:   ReasonInitialStock,
				Operator: input.Operator,
			})
			if err != nil {
				return err
			}
			part.Quantity = res.NewQuantity
		}
		created = part
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created.Quantity > 0 {
		s.ObserveCommitted(created.Quantity)
	}
	return created, nil
}

func (s *service) GetPart(ctx context.Context, partID string) (*models.Part, error) {
	partID, err := normalizePartID(partID)
	if err != nil {
		return nil, err
	}
	part, err := s.repo.FindByID(ctx, partID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load part")
	}
	if part == nil {
		return nil, unknownPart(partID)
	}
	return part, nil
}

// GetPartTx reads the part inside tx; a missing part is UNKNOWN_PART.
func (s *service) GetPartTx(ctx context.Context, tx *gorm.DB, partID string) (*models.Part, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	partID, err := normalizePartID(partID)
	if err != nil {
		return nil, err
	}
	part, err := s.repo.WithTx(tx).FindByID(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("load part %s: %w", partID, err)
	}
	if part == nil {
		return nil, unknownPart(partID)
	}
	return part, nil
}

func (s *service) ListParts(ctx context.Context, params pagination.Params) (*PartPage, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	after := ""
	if cursor != nil {
		after = cursor.Key
	}
	parts, err := s.repo.List(ctx, after, params.FetchSize())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list parts")
	}
	page := &PartPage{}
	var last *models.Part
	page.Parts, last = pagination.Trim(parts, params.PageSize())
	if last != nil {
		page.NextCursor = pagination.Cursor{Key: last.PartID}.Encode()
	}
	return page, nil
}

func (s *service) History(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error) {
	if _, err := s.GetPart(ctx, partID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, strings.TrimSpace(partID), pagination.Params{Limit: limit}.PageSize())
}

func (s *service) LowStock(ctx context.Context, threshold, limit int) ([]models.Part, error) {
	if threshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold cannot be negative")
	}
	return s.repo.ListAtOrBelow(ctx, threshold, limit)
}

func normalizePartID(raw string) (string, error) {
	partID := strings.TrimSpace(raw)
	if partID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "part id is required")
	}
	if len(partID) > maxPartIDLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "part id is too long")
	}
	return partID, nil
}

func unknownPart(partID string) error {
	return pkgerrors.New(pkgerrors.CodeUnknownPart, fmt.Sprintf("part %s not found", partID)).
		WithDetails(map[string]any{"part_id": partID})
}

func quantityOverflow(partID string, delta int) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("part %s cannot hold more than %d", partID, MaxQuantity)).
		WithDetails(map[string]any{"part_id": partID, "delta": delta, "max_quantity": MaxQuantity})
}

func actorRef(operator string) *outbox.ActorRef {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil
	}
	return &outbox.ActorRef{Operator: operator}
}

// IsRejection reports whether err is a definitive inventory rejection.
func IsRejection(err error) bool {
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeUnknownPart, pkgerrors.CodeInsufficientStock, pkgerrors.CodeValidation:
		return true
	}
	return false
}
