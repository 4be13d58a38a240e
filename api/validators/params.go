package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
)

func invalid(field, msg string, extra ...any) error {
	details := map[string]any{"field": field}
	for i := 0; i+1 < len(extra); i += 2 {
		details[extra[i].(string)] = extra[i+1]
	}
	return pkgerrors.New(pkgerrors.CodeValidation, field+" "+msg).WithDetails(details)
}

// ParseUUIDParam reads a chi path parameter as a uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw, err := RequireParam(r, name, 0)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid(name, "must be a uuid")
	}
	return id, nil
}

// RequireParam returns a trimmed, non-empty chi path parameter no longer
// than maxLen bytes (0 for no limit).
func RequireParam(r *http.Request, name string, maxLen int) (string, error) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	switch {
	case value == "":
		return "", invalid(name, "is required")
	case maxLen > 0 && len(value) > maxLen:
		return "", invalid(name, "is too long", "max", maxLen)
	}
	return value, nil
}

// ParseQueryInt returns def when key is absent and rejects values outside [min, max].
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(key, "must be an integer")
	}
	if n < min || n > max {
		return 0, invalid(key, "is out of range", "min", min, "max", max)
	}
	return n, nil
}

func ParseQueryBool(r *http.Request, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid(key, "must be a boolean")
	}
	return b, nil
}
