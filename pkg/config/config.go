package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	ScanRateLimit ScanRateLimitConfig
	CORS          CORSConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Cron          CronConfig
	Notifications NotificationsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.DB.validateRetry(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PARTSCAN_APP_ENV" required:"true"`
	Port         string `envconfig:"PARTSCAN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PARTSCAN_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PARTSCAN_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PARTSCAN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PARTSCAN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PARTSCAN_DB_DSN"`
	Driver string `envconfig:"PARTSCAN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PARTSCAN_DB_HOST"`
	LegacyPort     int    `envconfig:"PARTSCAN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PARTSCAN_DB_USER"`
	LegacyPassword string `envconfig:"PARTSCAN_DB_PASSWORD"`
	LegacyName     string `envconfig:"PARTSCAN_DB_NAME"`
	LegacySSLMode  string `envconfig:"PARTSCAN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PARTSCAN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PARTSCAN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PARTSCAN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PARTSCAN_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this as warnings; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"PARTSCAN_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`

	// TxTimeout bounds a single transaction attempt.
	TxTimeout        time.Duration `envconfig:"PARTSCAN_DB_TX_TIMEOUT" default:"5s"`
	RetryMaxAttempts int           `envconfig:"PARTSCAN_DB_RETRY_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay   time.Duration `envconfig:"PARTSCAN_DB_RETRY_BASE_DELAY" default:"20ms"`
	RetryMaxDelay    time.Duration `envconfig:"PARTSCAN_DB_RETRY_MAX_DELAY" default:"500ms"`
}

// IsSQLite reports whether the store runs on the embedded SQLite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"PARTSCAN_REDIS_URL"`
	Address      string        `envconfig:"PARTSCAN_REDIS_ADDR"`
	Password     string        `envconfig:"PARTSCAN_REDIS_PASSWORD"`
	DB           int           `envconfig:"PARTSCAN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PARTSCAN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PARTSCAN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PARTSCAN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PARTSCAN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PARTSCAN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PARTSCAN_AUTO_MIGRATE" default:"false"`
}

// ScanRateLimitConfig throttles scans per operator so a stuck scanner cannot drain stock.
type ScanRateLimitConfig struct {
	Window        time.Duration `envconfig:"PARTSCAN_SCAN_RATE_LIMIT_WINDOW" default:"1s"`
	OperatorLimit int           `envconfig:"PARTSCAN_SCAN_RATE_LIMIT_OPERATOR_LIMIT" default:"10"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"PARTSCAN_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"PARTSCAN_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"PARTSCAN_GCP_CREDENTIALS_FILE"`
}

type PubSubConfig struct {
	InventoryTopic string `envconfig:"PARTSCAN_PUBSUB_INVENTORY_TOPIC" default:"partscan-inventory-events"`
	RequestsTopic  string `envconfig:"PARTSCAN_PUBSUB_REQUESTS_TOPIC" default:"partscan-request-events"`

	// AlertsSubscription feeds the notifications worker; it should be attached
	// to both topics.
	AlertsSubscription string `envconfig:"PARTSCAN_PUBSUB_ALERTS_SUBSCRIPTION" default:"partscan-alerts"`

	// Endpoint overrides the Pub/Sub host without TLS or auth, e.g. localhost:8085.
	Endpoint string `envconfig:"PARTSCAN_PUBSUB_ENDPOINT"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PARTSCAN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PARTSCAN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PARTSCAN_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PARTSCAN_OUTBOX_RETENTION_DAYS" default:"30"`
	// DLQRetentionDays of 0 keeps dead letters forever.
	DLQRetentionDays int `envconfig:"PARTSCAN_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

type NotificationsConfig struct {
	// ProcessedTTL is how long a consumed event id is remembered for dedupe.
	ProcessedTTL time.Duration `envconfig:"PARTSCAN_NOTIFICATIONS_PROCESSED_TTL" default:"72h"`
	// ReadRetention bounds how long read notifications are kept; 0 keeps them.
	ReadRetention time.Duration `envconfig:"PARTSCAN_NOTIFICATIONS_READ_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"PARTSCAN_CRON_INTERVAL" default:"15m"`
	LowStockThreshold int           `envconfig:"PARTSCAN_CRON_LOW_STOCK_THRESHOLD" default:"0"`
}

// Days converts a day count from config into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

func (db *DBConfig) validateRetry() error {
	if db.RetryMaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvDBRetryMaxAttempts)
	}
	if db.RetryMaxDelay > 0 && db.RetryBaseDelay > db.RetryMaxDelay {
		return fmt.Errorf("%s cannot exceed %s", EnvDBRetryBaseDelay, EnvDBRetryMaxDelay)
	}
	return nil
}
