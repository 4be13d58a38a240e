package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	"github.com/angelmondragon/partscan-backend/internal/notifications"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

type notificationService interface {
	List(ctx context.Context, params notifications.ListParams) (*notifications.Page, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) (int64, error)
}

type notificationDTO struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	PartID    *string                `json:"part_id,omitempty"`
	RequestID *uuid.UUID             `json:"request_id,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type notificationPageDTO struct {
	Notifications []notificationDTO `json:"notifications"`
	Unread        int64             `json:"unread"`
	NextCursor    string            `json:"next_cursor,omitempty"`
}

func NotificationsList(svc notificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unread", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.List(r.Context(), notifications.ListParams{
			Pagination: pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")},
			UnreadOnly: unreadOnly,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := notificationPageDTO{
			Notifications: make([]notificationDTO, 0, len(page.Notifications)),
			Unread:        page.Unread,
			NextCursor:    page.NextCursor,
		}
		for _, n := range page.Notifications {
			out.Notifications = append(out.Notifications, notificationDTO{
				ID:        n.ID,
				Type:      n.Type,
				Title:     n.Title,
				Message:   n.Message,
				PartID:    n.PartID,
				RequestID: n.RequestID,
				ReadAt:    n.ReadAt,
				CreatedAt: n.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func NotificationMarkRead(svc notificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"ok": true})
	}
}

func NotificationsMarkAllRead(svc notificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := svc.MarkAllRead(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": count})
	}
}
