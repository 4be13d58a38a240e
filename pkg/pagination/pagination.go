package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params is a page request as it arrives from the API.
type Params struct {
	Limit  int
	Cursor string
}

// PageSize is Limit clamped to [1, MaxLimit], with DefaultLimit for zero.
func (p Params) PageSize() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	}
	return p.Limit
}

// FetchSize asks the store for one row more than a page so the caller can
// tell whether another page exists.
func (p Params) FetchSize() int {
	return p.PageSize() + 1
}

// Trim drops the look-ahead row. last is the final row kept when another
// page follows, and nil on the last page.
func Trim[T any](rows []T, size int) (page []T, last *T) {
	if size <= 0 || len(rows) <= size {
		return rows, nil
	}
	return rows[:size], &rows[size-1]
}

// Cursor marks where the next page starts. Time-ordered listings set
// CreatedAt and ID; listings ordered by a natural key set Key.
type Cursor struct {
	CreatedAt time.Time `json:"t,omitzero"`
	ID        uuid.UUID `json:"id,omitzero"`
	Key       string    `json:"k,omitempty"`
}

// Encode returns an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token from Encode. A blank token is the first page and
// yields nil.
func Decode(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("cursor encoding: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("cursor payload: %w", err)
	}
	if c.Key == "" && (c.CreatedAt.IsZero() || c.ID == uuid.Nil) {
		return nil, errors.New("cursor is empty")
	}
	return &c, nil
}
