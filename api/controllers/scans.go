package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/partscan-backend/api/middleware"
	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	"github.com/angelmondragon/partscan-backend/internal/scan"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

type scanner interface {
	Scan(ctx context.Context, input scan.Input) (*scan.Result, error)
}

type scanRequest struct {
	PartID string `json:"part_id" validate:"required,notblank,max=64"`
}

// RequestScan records one physical scan against the request in the path.
func RequestScan(svc scanner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload scanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Scan(r.Context(), scan.Input{
			RequestID: id,
			PartID:    payload.PartID,
			Operator:  middleware.OperatorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
