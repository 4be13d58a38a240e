package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/partscan-backend/api/middleware"
	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

const maxPartIDParamLen = 64

type partReader interface {
	ListParts(ctx context.Context, params pagination.Params) (*inventory.PartPage, error)
	GetPart(ctx context.Context, partID string) (*models.Part, error)
	History(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error)
}

type partWriter interface {
	Restock(ctx context.Context, partID string, qty int, operator string) (*inventory.AdjustResult, error)
	CreatePart(ctx context.Context, input inventory.CreatePartInput) (*models.Part, error)
}

// PartsList returns parts ordered by part id with a key cursor.
func PartsList(svc partReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListParts(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := partPageDTO{Parts: make([]partDTO, 0, len(page.Parts)), NextCursor: page.NextCursor}
		for _, part := range page.Parts {
			out.Parts = append(out.Parts, toPartDTO(part))
		}
		responses.WriteSuccess(w, out)
	}
}

func PartGet(svc partReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partID, err := validators.RequireParam(r, "partId", maxPartIDParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		part, err := svc.GetPart(r.Context(), partID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPartDTO(*part))
	}
}

// PartTransactions returns the newest ledger rows for a part.
func PartTransactions(svc partReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partID, err := validators.RequireParam(r, "partId", maxPartIDParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.History(r.Context(), partID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"part_id":      partID,
			"transactions": toTransactionDTOs(rows),
		})
	}
}

type restockRequest struct {
	Qty int `json:"qty" validate:"required,gt=0,lte=2147483647"`
}

func PartRestock(svc partWriter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partID, err := validators.RequireParam(r, "partId", maxPartIDParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Restock(r.Context(), partID, payload.Qty, middleware.OperatorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, adjustmentDTO{
			PartID:        result.PartID,
			ChangeQty:     result.Delta,
			NewQuantity:   result.NewQuantity,
			TransactionID: result.Transaction.ID,
		})
	}
}

type createPartRequest struct {
	PartID     string `json:"part_id" validate:"required,notblank,max=64"`
	InitialQty int    `json:"initial_qty" validate:"gte=0,lte=2147483647"`
}

func PartCreate(svc partWriter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createPartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		part, err := svc.CreatePart(r.Context(), inventory.CreatePartInput{
			PartID:     payload.PartID,
			InitialQty: payload.InitialQty,
			Operator:   middleware.OperatorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if part == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "part not returned"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toPartDTO(*part))
	}
}
