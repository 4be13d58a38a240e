package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

// Every body is either {"data": ...} or {"error": {...}}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// retryAfterSeconds is sent with retryable errors such as STORE_UNAVAILABLE.
const retryAfterSeconds = 1

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError maps err onto its code's HTTP status. Client errors (4xx) carry
// their own message; server errors only ever expose the code's public text.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := ErrorBody{Code: string(typed.Code()), Message: meta.PublicMessage}
	if meta.HTTPStatus < http.StatusInternalServerError && typed.Message() != "" {
		body.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}
	if meta.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	logError(ctx, logg, err, typed.Code(), meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, ErrorEnvelope{Error: body})
}

func logError(ctx context.Context, logg *logger.Logger, err error, code pkgerrors.Code, status int) {
	if logg == nil {
		return
	}
	fields := pkgerrors.LogFields(err)
	fields["error_code"] = string(code)
	fields["status"] = status
	if status >= http.StatusInternalServerError {
		// Error writes the "error" key itself
		delete(fields, "error")
		logg.Error(logg.WithFields(ctx, fields), "request failed", err)
		return
	}
	logg.Warn(logg.WithFields(ctx, fields), "request rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// the status line is already out, so an encode failure has nowhere to go
	_ = json.NewEncoder(w).Encode(payload)
}
