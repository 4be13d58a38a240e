package requests

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/internal/repo"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

// Repository persists BOM templates, requests and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	TemplateFor(ctx context.Context, productID string) ([]models.BomTemplate, error)
	ReplaceTemplate(ctx context.Context, productID string, lines []models.BomTemplate) error
	MissingParts(ctx context.Context, partIDs []string) ([]string, error)
	Create(ctx context.Context, request *models.BomRequest) error
	FindByID(ctx context.Context, requestID uuid.UUID) (*models.BomRequest, error)
	FindByIDForUpdate(ctx context.Context, requestID uuid.UUID) (*models.BomRequest, error)
	Items(ctx context.Context, requestID uuid.UUID) ([]models.RequestItem, error)
	FindOpenItem(ctx context.Context, requestID uuid.UUID, partID string) (*models.RequestItem, error)
	FindItemByID(ctx context.Context, itemID int64) (*models.RequestItem, error)
	IncrementItem(ctx context.Context, itemID int64) (bool, error)
	Totals(ctx context.Context, requestIDs []uuid.UUID) (map[uuid.UUID]Progress, error)
	TransitionStatus(ctx context.Context, requestID uuid.UUID, from, to enums.RequestStatus) (bool, error)
	List(ctx context.Context, cursor *pagination.Cursor, status *enums.RequestStatus, limit int) ([]models.BomRequest, error)
	ListOpenComplete(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewTxBase(tx)}
}

func (r *repository) TemplateFor(ctx context.Context, productID string) ([]models.BomTemplate, error) {
	var rows []models.BomTemplate
	err := r.DB(ctx).
		Where("product_id = ?", productID).
		Order("part_id ASC").
		Find(&rows).Error
	return rows, err
}

// ReplaceTemplate swaps every line of a product's template. Existing requests
// keep the snapshot they were created with.
func (r *repository) ReplaceTemplate(ctx context.Context, productID string, lines []models.BomTemplate) error {
	db := r.DB(ctx)
	if err := db.Where("product_id = ?", productID).Delete(&models.BomTemplate{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return db.Create(&lines).Error
}

// MissingParts returns the ids from partIDs that have no parts row.
func (r *repository) MissingParts(ctx context.Context, partIDs []string) ([]string, error) {
	if len(partIDs) == 0 {
		return nil, nil
	}
	var found []string
	if err := r.DB(ctx).Model(&models.Part{}).Where("part_id IN ?", partIDs).Pluck("part_id", &found).Error; err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(found))
	for _, id := range found {
		known[id] = struct{}{}
	}
	var missing []string
	for _, id := range partIDs {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Create inserts the request and its items in one statement batch.
func (r *repository) Create(ctx context.Context, request *models.BomRequest) error {
	return r.DB(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, requestID uuid.UUID) (*models.BomRequest, error) {
	return repo.FirstOrNil[models.BomRequest](r.DB(ctx).Where("request_id = ?", requestID))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, requestID uuid.UUID) (*models.BomRequest, error) {
	return repo.FirstOrNil[models.BomRequest](r.Locked(ctx).Where("request_id = ?", requestID))
}

func (r *repository) Items(ctx context.Context, requestID uuid.UUID) ([]models.RequestItem, error) {
	var items []models.RequestItem
	err := r.DB(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// FindOpenItem returns the lowest-id item for the part that still accepts scans.
func (r *repository) FindOpenItem(ctx context.Context, requestID uuid.UUID, partID string) (*models.RequestItem, error) {
	return repo.FirstOrNil[models.RequestItem](r.DB(ctx).
		Where("request_id = ? AND part_id = ? AND scanned_qty < qty_needed", requestID, partID).
		Order("id ASC"))
}

func (r *repository) FindItemByID(ctx context.Context, itemID int64) (*models.RequestItem, error) {
	var item models.RequestItem
	if err := r.DB(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// IncrementItem adds one scan when the item is not yet complete.
func (r *repository) IncrementItem(ctx context.Context, itemID int64) (bool, error) {
	res := r.DB(ctx).Exec(`
		UPDATE request_items
		SET scanned_qty = scanned_qty + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND scanned_qty < qty_needed
	`, itemID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type totalsRow struct {
	RequestID uuid.UUID
	Scanned   int
	Needed    int
}

// Totals sums scanned and needed quantities per request.
func (r *repository) Totals(ctx context.Context, requestIDs []uuid.UUID) (map[uuid.UUID]Progress, error) {
	out := make(map[uuid.UUID]Progress, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	var rows []totalsRow
	err := r.DB(ctx).
		Model(&models.RequestItem{}).
		Select("request_id, COALESCE(SUM(scanned_qty), 0) AS scanned, COALESCE(SUM(qty_needed), 0) AS needed").
		Where("request_id IN ?", requestIDs).
		Group("request_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.RequestID] = Progress{Scanned: row.Scanned, Needed: row.Needed}
	}
	return out, nil
}

// TransitionStatus moves the request from one status to another and reports
// whether the row was still in the expected status.
func (r *repository) TransitionStatus(ctx context.Context, requestID uuid.UUID, from, to enums.RequestStatus) (bool, error) {
	res := r.DB(ctx).
		Model(&models.BomRequest{}).
		Where("request_id = ? AND status = ?", requestID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// List returns requests newest first, optionally filtered by status.
func (r *repository) List(ctx context.Context, cursor *pagination.Cursor, status *enums.RequestStatus, limit int) ([]models.BomRequest, error) {
	var rows []models.BomRequest
	query := r.DB(ctx).
		Order("created_at DESC").
		Order("request_id DESC")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND request_id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListOpenComplete finds open requests with no item left to scan.
func (r *repository) ListOpenComplete(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.DB(ctx).
		Model(&models.BomRequest{}).
		Where("status = ?", enums.RequestStatusOpen).
		Where("EXISTS (SELECT 1 FROM request_items ri WHERE ri.request_id = bom_requests.request_id)").
		Where("NOT EXISTS (SELECT 1 FROM request_items ri WHERE ri.request_id = bom_requests.request_id AND ri.scanned_qty < ri.qty_needed)").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("request_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
