// Package dbtest opens isolated SQLite databases carrying the full model schema.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/migrate"
)

// Open returns a client over a private in-memory database named after the test.
func Open(t testing.TB) *db.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())
	client, err := db.New(context.Background(), config.DBConfig{DSN: dsn, Driver: config.DriverSQLite}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := migrate.AutoMigrateModels(client); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return client
}

// Runner wraps the client in the retrying runner used by services.
func Runner(client *db.Client) *db.RetryingRunner {
	return db.NewRetryingRunner(client, db.RetryPolicy{MaxAttempts: 5})
}
