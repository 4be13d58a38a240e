package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsPGReadsBothDrivers(t *testing.T) {
	pg, ok := AsPG(fmt.Errorf("update: %w", &pgconn.PgError{Code: "23514", ConstraintName: "parts_quantity_check", TableName: "parts"}))
	require.True(t, ok)
	assert.Equal(t, "23514", pg.Code)
	assert.Equal(t, "parts_quantity_check", pg.Constraint)
	assert.Equal(t, "parts", pg.Table)

	pg, ok = AsPG(&pq.Error{Code: "40001", Message: "could not serialize access"})
	require.True(t, ok)
	assert.Equal(t, "40001", pg.Code)
	assert.Equal(t, "could not serialize access", pg.Message)

	_, ok = AsPG(stdErrors.New("plain"))
	assert.False(t, ok)
}

func TestLogFields(t *testing.T) {
	assert.Empty(t, LogFields(nil))

	plain := LogFields(stdErrors.New("boom"))
	assert.Equal(t, "boom", plain["error"])
	assert.NotContains(t, plain, "error_chain")
	assert.NotContains(t, plain, "error_code")

	cause := &pgconn.PgError{Code: "23505", ConstraintName: "parts_pkey"}
	fields := LogFields(Wrap(CodeStoreUnavailable, fmt.Errorf("insert: %w", cause), "create part"))
	assert.Equal(t, "STORE_UNAVAILABLE", fields["error_code"])
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, "parts_pkey", fields["pg_constraint"])
	assert.NotContains(t, fields, "pg_table")
	assert.Len(t, fields["error_chain"], 3)
}
