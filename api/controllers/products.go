package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

const maxProductIDParamLen = 64

type templateService interface {
	Template(ctx context.Context, productID string) ([]models.BomTemplate, error)
	SetTemplate(ctx context.Context, productID string, lines []requests.TemplateLine) ([]models.BomTemplate, error)
}

func ProductTemplateGet(svc templateService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.RequireParam(r, "productId", maxProductIDParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.Template(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTemplateDTO(productID, rows))
	}
}

type templateLineRequest struct {
	PartID    string `json:"part_id" validate:"required,notblank,max=64"`
	QtyNeeded int    `json:"qty_needed" validate:"required,gt=0"`
}

type setTemplateRequest struct {
	Lines []templateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ProductTemplatePut replaces the bill of materials. Existing requests keep their
// item snapshot.
func ProductTemplatePut(svc templateService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.RequireParam(r, "productId", maxProductIDParamLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload setTemplateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines := make([]requests.TemplateLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, requests.TemplateLine{PartID: line.PartID, QtyNeeded: line.QtyNeeded})
		}
		rows, err := svc.SetTemplate(r.Context(), productID, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTemplateDTO(productID, rows))
	}
}
