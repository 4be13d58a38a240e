package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date on boot in dev when
// PARTSCAN_AUTO_MIGRATE is set. Other environments run cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithField(ctx, "driver", cfg.DB.Driver)

	if client.IsSQLite() {
		logg.Info(ctx, "dev auto-migrate: creating sqlite tables from models")
		return AutoMigrateModels(client)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	migrator, err := New(sqlDB, nil, logg)
	if err != nil {
		return err
	}
	logg.Info(ctx, "dev auto-migrate: applying embedded migrations")
	return migrator.Up(ctx)
}

// AutoMigrateModels creates every table from the GORM models.
func AutoMigrateModels(client *db.Client) error {
	if client == nil {
		return fmt.Errorf("db client is required")
	}
	if err := client.DB().AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate models: %w", err)
	}
	return nil
}
