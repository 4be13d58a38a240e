package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
)

// ErrConflict signals that a conditional write lost a race and the
// surrounding transaction should be retried from a fresh read.
var ErrConflict = errors.New("db: concurrent update conflict")

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique violation, optionally on
// a specific constraint. SQLite errors only carry text, so they are matched
// on message.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if pg, ok := pkgerrors.AsPG(err); ok {
		return pg.Code == pgUniqueViolation && (constraint == "" || pg.Constraint == constraint)
	}
	msg := err.Error()
	if constraint != "" && strings.Contains(msg, constraint) {
		return true
	}
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

var transientPGCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57P01": {}, // admin_shutdown
}

// IsTransient reports whether err is worth retrying with a fresh transaction.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrConflict):
		return true
	}

	if pg, ok := pkgerrors.AsPG(err); ok {
		_, known := transientPGCodes[pg.Code]
		// class 08 is connection exception
		return known || strings.HasPrefix(pg.Code, "08")
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
