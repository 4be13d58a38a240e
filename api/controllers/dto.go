package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
)

type partDTO struct {
	PartID    string    `json:"part_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type partPageDTO struct {
	Parts      []partDTO `json:"parts"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type transactionDTO struct {
	ID        int64      `json:"id"`
	PartID    string     `json:"part_id"`
	ChangeQty int        `json:"change_qty"`
	Reason    string     `json:"reason"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type adjustmentDTO struct {
	PartID        string `json:"part_id"`
	ChangeQty     int    `json:"change_qty"`
	NewQuantity   int    `json:"new_quantity"`
	TransactionID int64  `json:"transaction_id"`
}

type templateLineDTO struct {
	PartID    string `json:"part_id"`
	QtyNeeded int    `json:"qty_needed"`
}

type templateDTO struct {
	ProductID string            `json:"product_id"`
	Lines     []templateLineDTO `json:"lines"`
}

type requestItemDTO struct {
	ItemID     int64  `json:"item_id"`
	PartID     string `json:"part_id"`
	QtyNeeded  int    `json:"qty_needed"`
	ScannedQty int    `json:"scanned_qty"`
	Remaining  int    `json:"remaining"`
}

type requestDTO struct {
	RequestID   uuid.UUID           `json:"request_id"`
	ProductID   string              `json:"product_id"`
	RequestedBy string              `json:"requested_by"`
	Status      enums.RequestStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Progress    requests.Progress   `json:"progress"`
	Items       []requestItemDTO    `json:"items,omitempty"`
}

type requestPageDTO struct {
	Requests   []requestDTO `json:"requests"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toPartDTO(p models.Part) partDTO {
	return partDTO{PartID: p.PartID, Quantity: p.Quantity, UpdatedAt: p.UpdatedAt}
}

func toTransactionDTOs(rows []models.InventoryTransaction) []transactionDTO {
	out := make([]transactionDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, transactionDTO{
			ID:        row.ID,
			PartID:    row.PartID,
			ChangeQty: row.ChangeQty,
			Reason:    row.Reason,
			RequestID: row.RequestID,
			Timestamp: row.Timestamp,
		})
	}
	return out
}

func toTemplateDTO(productID string, rows []models.BomTemplate) templateDTO {
	lines := make([]templateLineDTO, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, templateLineDTO{PartID: row.PartID, QtyNeeded: row.QtyNeeded})
	}
	return templateDTO{ProductID: productID, Lines: lines}
}

func toRequestDTO(request models.BomRequest, progress requests.Progress) requestDTO {
	dto := requestDTO{
		RequestID:   request.RequestID,
		ProductID:   request.ProductID,
		RequestedBy: request.RequestedBy,
		Status:      request.Status,
		CreatedAt:   request.CreatedAt,
		UpdatedAt:   request.UpdatedAt,
		Progress:    progress,
	}
	for _, item := range request.Items {
		dto.Items = append(dto.Items, requestItemDTO{
			ItemID:     item.ID,
			PartID:     item.PartID,
			QtyNeeded:  item.QtyNeeded,
			ScannedQty: item.ScannedQty,
			Remaining:  item.Remaining(),
		})
	}
	return dto
}
