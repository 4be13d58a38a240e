package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

type deadLetterStore interface {
	List(ctx context.Context, filter outbox.DeadLetterFilter) (*outbox.DeadLetterPage, error)
	Get(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterDTO struct {
	EventID       uuid.UUID                  `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   string                     `json:"aggregate_id"`
	Reason        enums.OutboxDLQErrorReason `json:"reason"`
	Error         *string                    `json:"error,omitempty"`
	Attempts      int                        `json:"attempts"`
	FailedAt      time.Time                  `json:"failed_at"`
	Payload       json.RawMessage            `json:"payload,omitempty"`
}

func toDeadLetterDTO(entry models.OutboxDLQ, withPayload bool) deadLetterDTO {
	dto := deadLetterDTO{
		EventID:       entry.EventID,
		EventType:     entry.EventType,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		Reason:        entry.ErrorReason,
		Error:         entry.ErrorMessage,
		Attempts:      entry.AttemptCount,
		FailedAt:      entry.FailedAt,
	}
	if withPayload {
		dto.Payload = entry.Payload
	}
	return dto
}

// DeadLettersList pages through events the publisher dead-lettered.
func DeadLettersList(store deadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := r.URL.Query()
		page, err := store.List(r.Context(), outbox.DeadLetterFilter{
			EventType:  enums.OutboxEventType(q.Get("event_type")),
			Reason:     enums.OutboxDLQErrorReason(q.Get("reason")),
			Pagination: pagination.Params{Limit: limit, Cursor: q.Get("cursor")},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := struct {
			DeadLetters []deadLetterDTO `json:"dead_letters"`
			NextCursor  string          `json:"next_cursor,omitempty"`
		}{DeadLetters: make([]deadLetterDTO, 0, len(page.Entries)), NextCursor: page.NextCursor}
		for _, entry := range page.Entries {
			out.DeadLetters = append(out.DeadLetters, toDeadLetterDTO(entry, false))
		}
		responses.WriteSuccess(w, out)
	}
}

func DeadLetterGet(store deadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := store.Get(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if entry == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		}
		responses.WriteSuccess(w, toDeadLetterDTO(*entry, true))
	}
}
