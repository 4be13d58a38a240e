package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryTransaction is an append-only record of one quantity change on a Part.
type InventoryTransaction struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	PartID    string     `gorm:"column:part_id;not null;index:ix_transactions_part_id"`
	ChangeQty int        `gorm:"column:change_qty;not null;check:chk_transactions_change_nonzero,change_qty <> 0"`
	Reason    string     `gorm:"column:reason;not null"`
	RequestID *uuid.UUID `gorm:"column:request_id;type:uuid"`
	Timestamp time.Time  `gorm:"column:timestamp;autoCreateTime"`
}

func (InventoryTransaction) TableName() string {
	return "transactions"
}
