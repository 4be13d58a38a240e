package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/api/middleware"
	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

type requestService interface {
	CreateRequest(ctx context.Context, input requests.CreateInput) (uuid.UUID, error)
	Progress(ctx context.Context, requestID uuid.UUID) (requests.Progress, error)
	Cancel(ctx context.Context, requestID uuid.UUID, operator string) error
	Get(ctx context.Context, requestID uuid.UUID) (*requests.RequestDetail, error)
	List(ctx context.Context, params requests.ListParams) (*requests.RequestPage, error)
}

type createRequestRequest struct {
	ProductID   string `json:"product_id" validate:"required,notblank,max=64"`
	RequestedBy string `json:"requested_by" validate:"required,notblank,max=128"`
}

func RequestCreate(svc requestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createRequestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := svc.CreateRequest(r.Context(), requests.CreateInput{
			ProductID:   payload.ProductID,
			RequestedBy: payload.RequestedBy,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"request_id": id})
	}
}

// RequestList backs the dashboard: newest first, optional ?status= filter.
func RequestList(svc requestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := r.URL.Query()
		page, err := svc.List(r.Context(), requests.ListParams{
			Pagination: pagination.Params{Limit: limit, Cursor: query.Get("cursor")},
			Status:     strings.ToLower(strings.TrimSpace(query.Get("status"))),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := requestPageDTO{Requests: make([]requestDTO, 0, len(page.Requests)), NextCursor: page.NextCursor}
		for _, summary := range page.Requests {
			out.Requests = append(out.Requests, toRequestDTO(summary.Request, summary.Progress))
		}
		responses.WriteSuccess(w, out)
	}
}

func RequestGet(svc requestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toRequestDTO(detail.Request, detail.Progress))
	}
}

func RequestProgress(svc requestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		progress, err := svc.Progress(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"request_id":    id,
			"scanned_total": progress.Scanned,
			"needed_total":  progress.Needed,
		})
	}
}

func RequestCancel(svc requestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Cancel(r.Context(), id, middleware.OperatorFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"request_id": id, "ok": true})
	}
}
