package payloads

import (
	"github.com/google/uuid"
)

// RequestItemLine is one seeded line of a new BOM request.
type RequestItemLine struct {
	ItemID    int64  `json:"item_id"`
	PartID    string `json:"part_id"`
	QtyNeeded int    `json:"qty_needed"`
}

// RequestCreatedEvent is emitted once a request and its items are persisted.
type RequestCreatedEvent struct {
	RequestID   uuid.UUID         `json:"request_id"`
	ProductID   string            `json:"product_id"`
	RequestedBy string            `json:"requested_by"`
	Items       []RequestItemLine `json:"items"`
}

// RequestCancelledEvent is emitted on the open to cancelled transition only.
type RequestCancelledEvent struct {
	RequestID    uuid.UUID `json:"request_id"`
	ProductID    string    `json:"product_id"`
	ScannedTotal int       `json:"scanned_total"`
	NeededTotal  int       `json:"needed_total"`
}

// RequestFulfilledEvent is emitted when every item of a request is fully scanned.
type RequestFulfilledEvent struct {
	RequestID   uuid.UUID `json:"request_id"`
	ProductID   string    `json:"product_id"`
	NeededTotal int       `json:"needed_total"`
	Source      string    `json:"source"`
}

// ScanAcceptedEvent records one accepted scan.
type ScanAcceptedEvent struct {
	RequestID     uuid.UUID `json:"request_id"`
	PartID        string    `json:"part_id"`
	ItemID        int64     `json:"item_id"`
	ScannedQty    int       `json:"scanned_qty"`
	QtyNeeded     int       `json:"qty_needed"`
	PartQuantity  int       `json:"part_quantity"`
	TransactionID int64     `json:"transaction_id"`
	Operator      string    `json:"operator,omitempty"`
}

// InventoryAdjustedEvent mirrors one ledger transaction.
type InventoryAdjustedEvent struct {
	PartID        string `json:"part_id"`
	ChangeQty     int    `json:"change_qty"`
	NewQuantity   int    `json:"new_quantity"`
	Reason        string `json:"reason"`
	TransactionID int64  `json:"transaction_id"`
}

// StockDepletedEvent flags a part at or below the low-stock threshold.
type StockDepletedEvent struct {
	PartID    string `json:"part_id"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}
