package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

// Client owns the pooled GORM connection shared by every repository.
type Client struct {
	conn   *gorm.DB
	sqlite bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the configured driver, applies pool limits and verifies the
// connection with a ping.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
	if cfg.IsSQLite() {
		dialector = sqlite.Open(cfg.DSN)
	}

	var queryLog gormlogger.Interface = gormlogger.Discard
	if logg != nil {
		queryLog = newQueryLogger(logg, cfg.SlowQueryThreshold)
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 queryLog,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	configurePool(sqlDB, cfg)

	client := &Client{conn: conn, sqlite: cfg.IsSQLite()}
	if err := client.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"driver":         cfg.Driver,
			"max_open_conns": sqlDB.Stats().MaxOpenConnections,
		}), "database connected")
	}
	return client, nil
}

func configurePool(sqlDB *sql.DB, cfg config.DBConfig) {
	switch {
	case cfg.IsSQLite():
		// one writer at a time; queue on the pool instead of SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	default:
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) IsSQLite() bool {
	return c.sqlite
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in one transaction. It commits when fn returns nil and rolls
// back on an error or a panic, which is re-raised.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
