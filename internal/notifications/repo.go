package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

// Repository persists operator notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CreateOnce inserts the notification unless one already exists for its event.
	CreateOnce(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, params listParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, id uuid.UUID, now time.Time) (markResult, error)
	MarkAllRead(ctx context.Context, now time.Time) (int64, error)
	CountUnread(ctx context.Context) (int64, error)
	// DeleteReadBefore drops notifications read before cutoff; unread ones stay.
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listParams struct {
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOnce(ctx context.Context, notification *models.Notification) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(notification)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, params listParams) ([]models.Notification, *pagination.Cursor, error) {
	size := pagination.Params{Limit: params.Limit}.PageSize()
	query := r.db.WithContext(ctx).Model(&models.Notification{})
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(size + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, last := pagination.Trim(rows, size)
	if last == nil {
		return rows, nil, nil
	}
	return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

func (r *repository) MarkRead(ctx context.Context, id uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return markResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return markResult{Updated: true, Found: true}, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return markResult{}, err
	}
	return markResult{Found: count > 0}, nil
}

func (r *repository) MarkAllRead(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("read_at IS NULL").
		UpdateColumn("read_at", now)
	return result.RowsAffected, result.Error
}

func (r *repository) CountUnread(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).Where("read_at IS NULL").Count(&count).Error
	return count, err
}

func (r *repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND read_at < ?", cutoff).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
