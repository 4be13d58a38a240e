package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestItem tracks scan progress for one part of a BomRequest.
type RequestItem struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RequestID  uuid.UUID `gorm:"column:request_id;type:uuid;not null;uniqueIndex:ux_request_items_request_part,priority:1"`
	PartID     string    `gorm:"column:part_id;not null;uniqueIndex:ux_request_items_request_part,priority:2"`
	QtyNeeded  int       `gorm:"column:qty_needed;not null;check:chk_request_items_qty_positive,qty_needed > 0"`
	ScannedQty int       `gorm:"column:scanned_qty;not null;default:0;check:chk_request_items_scanned_range,scanned_qty >= 0 AND scanned_qty <= qty_needed"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Remaining is how many more scans the item accepts.
func (i RequestItem) Remaining() int {
	return i.QtyNeeded - i.ScannedQty
}
