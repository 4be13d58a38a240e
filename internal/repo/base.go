// Package repo holds the pieces every gorm-backed repository shares.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base binds a repository to either the pool or one open transaction.
type Base struct {
	db   *gorm.DB
	inTx bool
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// NewTxBase keeps the context the transaction was opened with, so the
// runner's per-attempt deadline covers every query.
func NewTxBase(tx *gorm.DB) Base {
	return Base{db: tx, inTx: true}
}

func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil || b.inTx {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Locked is DB with a FOR UPDATE row lock. SQLite drops the clause and
// relies on its single writer.
func (b Base) Locked(ctx context.Context) *gorm.DB {
	return b.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// FirstOrNil runs query.First and maps a missing row to (nil, nil).
func FirstOrNil[T any](query *gorm.DB) (*T, error) {
	var row T
	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
