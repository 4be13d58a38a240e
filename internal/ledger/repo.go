package ledger

import (
	"context"

	"github.com/angelmondragon/partscan-backend/internal/repo"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository persists inventory transactions. Rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, txn *models.InventoryTransaction) error
	ListByPart(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error)
	CountByPart(ctx context.Context, partID string) (int64, error)
	SumByPart(ctx context.Context, partID string) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewTxBase(tx)}
}

func (r *repository) Append(ctx context.Context, txn *models.InventoryTransaction) error {
	return r.DB(ctx).Create(txn).Error
}

// ListByPart returns the newest transactions first.
func (r *repository) ListByPart(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error) {
	var rows []models.InventoryTransaction
	query := r.DB(ctx).
		Where("part_id = ?", partID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountByPart(ctx context.Context, partID string) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.InventoryTransaction{}).Where("part_id = ?", partID).Count(&count).Error
	return count, err
}

// SumByPart totals every change for a part; it equals the part's quantity when
// the ledger is complete.
func (r *repository) SumByPart(ctx context.Context, partID string) (int64, error) {
	var sum int64
	err := r.DB(ctx).Model(&models.InventoryTransaction{}).
		Select("COALESCE(SUM(change_qty), 0)").
		Where("part_id = ?", partID).
		Scan(&sum).Error
	return sum, err
}
