package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

// DLQRepository stores events the publisher gave up on. Rows are written by
// the publisher and only read back by operators.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// DeadLetterFilter narrows a dead-letter listing. Zero fields match everything.
type DeadLetterFilter struct {
	EventType  enums.OutboxEventType
	Reason     enums.OutboxDLQErrorReason
	Pagination pagination.Params
}

type DeadLetterPage struct {
	Entries    []models.OutboxDLQ
	NextCursor string
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		entry.ErrorMessage = clip(*entry.ErrorMessage)
	}
	return tx.Create(&entry).Error
}

// Get returns the dead letter recorded for an outbox event, or nil.
func (r *DLQRepository) Get(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List pages through dead letters newest first.
func (r *DLQRepository) List(ctx context.Context, filter DeadLetterFilter) (*DeadLetterPage, error) {
	if filter.EventType != "" && !filter.EventType.IsValid() {
		return nil, invalidFilter("event_type", string(filter.EventType))
	}
	if filter.Reason != "" && !filter.Reason.IsValid() {
		return nil, invalidFilter("reason", string(filter.Reason))
	}
	cursor, err := pagination.Decode(filter.Pagination.Cursor)
	if err != nil {
		return nil, invalidFilter("cursor", filter.Pagination.Cursor)
	}

	size := filter.Pagination.PageSize()
	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}
	if cursor != nil {
		query = query.Where("(failed_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.OutboxDLQ
	if err := query.Order("failed_at DESC, id DESC").Limit(size + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	rows, last := pagination.Trim(rows, size)
	page := &DeadLetterPage{Entries: rows}
	if last != nil {
		page.NextCursor = pagination.Cursor{CreatedAt: last.FailedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// DeleteBefore drops dead letters recorded before cutoff.
func (r *DLQRepository) DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	res := tx.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

func invalidFilter(field, value string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid dead letter filter").
		WithDetails(map[string]any{field: value})
}
