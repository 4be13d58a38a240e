package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

// SourceDir is where new migrations are written, relative to the repo root.
const SourceDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the SQL migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator applies goose migrations against Postgres. The SQL files use
// Postgres enums and triggers; SQLite schemas come from AutoMigrateModels.
type Migrator struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func New(db *sql.DB, fsys fs.FS, logg *logger.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("sql db is required")
	}
	if fsys == nil {
		fsys = Migrations()
	}
	if err := Validate(fsys); err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider, logg: logg}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if result != nil {
		m.report(ctx, result)
	}
	if err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// To moves the schema up or down until target is the current version.
func (m *Migrator) To(ctx context.Context, target int64) error {
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("current version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = m.provider.UpTo(ctx, target)
	default:
		results, err = m.provider.DownTo(ctx, target)
	}
	m.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

type Status struct {
	Version int64
	Path    string
	Applied bool
}

func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	rows, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate status: %w", err)
	}
	out := make([]Status, 0, len(rows))
	for _, row := range rows {
		out = append(out, Status{
			Version: row.Source.Version,
			Path:    row.Source.Path,
			Applied: row.State == goose.StateApplied,
		})
	}
	return out, nil
}

func (m *Migrator) report(ctx context.Context, results ...*goose.MigrationResult) {
	if m.logg == nil {
		return
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fields := map[string]any{
			"version":     r.Source.Version,
			"file":        r.Source.Path,
			"direction":   r.Direction,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Error != nil {
			m.logg.Error(m.logg.WithFields(ctx, fields), "migration failed", r.Error)
			continue
		}
		m.logg.Info(m.logg.WithFields(ctx, fields), "migration applied")
	}
}
