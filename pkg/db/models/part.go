package models

import "time"

// Part is one stocked component. Quantity only moves through the inventory ledger.
type Part struct {
	PartID    string    `gorm:"column:part_id;primaryKey"`
	Quantity  int       `gorm:"column:quantity;not null;default:0;check:chk_parts_quantity_nonnegative,quantity >= 0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
