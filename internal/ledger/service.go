package ledger

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxReasonLen = 255

// Service appends and reads inventory transactions.
type Service interface {
	// Record appends one transaction inside the caller's database transaction.
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.InventoryTransaction, error)
	History(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error)
	Balance(ctx context.Context, partID string) (int64, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data a transaction requires.
type RecordInput struct {
	PartID    string
	ChangeQty int
	Reason    string
	RequestID *uuid.UUID
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.InventoryTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	partID := strings.TrimSpace(input.PartID)
	if partID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "part id is required")
	}
	if input.ChangeQty == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "change quantity must be nonzero")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	reason = truncateReason(reason)

	txn := &models.InventoryTransaction{
		PartID:    partID,
		ChangeQty: input.ChangeQty,
		Reason:    reason,
		RequestID: input.RequestID,
	}
	if err := s.repo.WithTx(tx).Append(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) History(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error) {
	partID = strings.TrimSpace(partID)
	if partID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "part id is required")
	}
	return s.repo.ListByPart(ctx, partID, limit)
}

func (s *service) Balance(ctx context.Context, partID string) (int64, error) {
	partID = strings.TrimSpace(partID)
	if partID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "part id is required")
	}
	return s.repo.SumByPart(ctx, partID)
}

// truncateReason caps reason at maxReasonLen bytes without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
