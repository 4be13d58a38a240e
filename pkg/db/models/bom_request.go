package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/pkg/enums"
)

// BomRequest asks for one build of a product; its items are a snapshot of the template.
type BomRequest struct {
	RequestID   uuid.UUID           `gorm:"column:request_id;type:uuid;primaryKey"`
	ProductID   string              `gorm:"column:product_id;not null"`
	RequestedBy string              `gorm:"column:requested_by;not null"`
	Status      enums.RequestStatus `gorm:"column:status;type:request_status_enum;not null;default:'open'"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Items []RequestItem `gorm:"foreignKey:RequestID;references:RequestID"`
}
