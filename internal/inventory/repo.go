package inventory

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/internal/repo"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
)

// Repository persists parts. Quantity changes go through ApplyDelta only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, part *models.Part) error
	FindByID(ctx context.Context, partID string) (*models.Part, error)
	FindByIDForUpdate(ctx context.Context, partID string) (*models.Part, error)
	List(ctx context.Context, afterPartID string, limit int) ([]models.Part, error)
	ListAtOrBelow(ctx context.Context, threshold int, limit int) ([]models.Part, error)
	ApplyDelta(ctx context.Context, partID string, delta int) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a parts repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewTxBase(tx)}
}

func (r *repository) Create(ctx context.Context, part *models.Part) error {
	return r.DB(ctx).Create(part).Error
}

// FindByID returns nil, nil when the part does not exist.
func (r *repository) FindByID(ctx context.Context, partID string) (*models.Part, error) {
	return repo.FirstOrNil[models.Part](r.DB(ctx).Where("part_id = ?", partID))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, partID string) (*models.Part, error) {
	return repo.FirstOrNil[models.Part](r.Locked(ctx).Where("part_id = ?", partID))
}

func (r *repository) List(ctx context.Context, afterPartID string, limit int) ([]models.Part, error) {
	var parts []models.Part
	query := r.DB(ctx).Order("part_id ASC")
	if afterPartID != "" {
		query = query.Where("part_id > ?", afterPartID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&parts).Error; err != nil {
		return nil, err
	}
	return parts, nil
}

func (r *repository) ListAtOrBelow(ctx context.Context, threshold int, limit int) ([]models.Part, error) {
	var parts []models.Part
	query := r.DB(ctx).
		Where("quantity <= ?", threshold).
		Order("quantity ASC").
		Order("part_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&parts).Error; err != nil {
		return nil, err
	}
	return parts, nil
}

// ApplyDelta moves quantity by delta only when the result stays within
// [0, MaxQuantity]. It reports false when no row matched: the part is missing,
// the stock is too low, or the new quantity would overflow the column.
func (r *repository) ApplyDelta(ctx context.Context, partID string, delta int) (bool, error) {
	res := r.DB(ctx).Exec(`
		UPDATE parts
		SET quantity = quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE part_id = ? AND quantity + ? >= 0 AND quantity + ? <= ?
	`, delta, partID, delta, delta, MaxQuantity)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
