package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := fmt.Sprintf("file:db_client_%s?mode=memory&cache=shared", uuid.NewString())
	client, err := New(context.Background(), config.DBConfig{DSN: dsn, Driver: config.DriverSQLite}, nil)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.DB().AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return client
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: config.DriverSQLite}, nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestNewSQLiteUsesSingleConnection(t *testing.T) {
	client := newTestClient(t)
	if !client.IsSQLite() {
		t.Fatal("expected sqlite client")
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("expected 1 max open connection, got %d", got)
	}
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	client := newTestClient(t)
	db := client.DB()

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	client := newTestClient(t)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicked"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	}()

	var count int64
	if err := client.DB().Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic rollback, got %d rows", count)
	}
}

func TestPing(t *testing.T) {
	client := newTestClient(t)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "conflict sentinel", err: fmt.Errorf("scan: %w", ErrConflict), want: true},
		{name: "pgx serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "pgx deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "pgx connection", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "pgx check violation", err: &pgconn.PgError{Code: "23514"}, want: false},
		{name: "pq lock timeout", err: &pq.Error{Code: "55P03"}, want: true},
		{name: "sqlite busy", err: errors.New("database is locked"), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(errors.New(`duplicate key value violates unique constraint "parts_pkey"`), "") {
		t.Fatal("expected postgres duplicate to match")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: parts.part_id"), "") {
		t.Fatal("expected sqlite duplicate to match")
	}
	if IsUniqueViolation(errors.New("other"), "") {
		t.Fatal("unexpected match")
	}

	pending := &pgconn.PgError{Code: "23505", ConstraintName: "ux_outbox_events_pending_aggregate"}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", pending), "ux_outbox_events_pending_aggregate") {
		t.Fatal("expected constraint match through wrapping")
	}
	if IsUniqueViolation(pending, "parts_pkey") {
		t.Fatal("expected other constraint not to match")
	}
	if IsUniqueViolation(&pq.Error{Code: "23514", Constraint: "parts_quantity_check"}, "") {
		t.Fatal("check violation is not a unique violation")
	}
}
