package enums

import (
	"fmt"
	"slices"
)

// Every enum here mirrors a Postgres enum type, so each keeps its full value
// list in the same order as the CREATE TYPE statement.

func isOneOf[T ~string](v T, values []T) bool {
	return slices.Contains(values, v)
}

func parseOneOf[T ~string](kind, raw string, values []T) (T, error) {
	if v := T(raw); isOneOf(v, values) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
