package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/pkg/enums"
)

// Notification is an operator-facing alert derived from one consumed domain event.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID              `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_notifications_event_id"`
	Type      enums.NotificationType `gorm:"column:type;type:notification_type_enum;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Message   string                 `gorm:"column:message;not null"`
	PartID    *string                `gorm:"column:part_id"`
	RequestID *uuid.UUID             `gorm:"column:request_id;type:uuid"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
