package config

const (
	EnvPrefix = "PARTSCAN"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "PARTSCAN_APP_ENV"
	EnvPort     = "PARTSCAN_APP_PORT"
	EnvLogLevel = "PARTSCAN_LOG_LEVEL"

	EnvDBDSN              = "PARTSCAN_DB_DSN"
	EnvDBDriver           = "PARTSCAN_DB_DRIVER"
	EnvDBHost             = "PARTSCAN_DB_HOST"
	EnvDBUser             = "PARTSCAN_DB_USER"
	EnvDBPassword         = "PARTSCAN_DB_PASSWORD"
	EnvDBName             = "PARTSCAN_DB_NAME"
	EnvDBTxTimeout        = "PARTSCAN_DB_TX_TIMEOUT"
	EnvDBRetryMaxAttempts = "PARTSCAN_DB_RETRY_MAX_ATTEMPTS"
	EnvDBRetryBaseDelay   = "PARTSCAN_DB_RETRY_BASE_DELAY"
	EnvDBRetryMaxDelay    = "PARTSCAN_DB_RETRY_MAX_DELAY"

	EnvRedisURL = "PARTSCAN_REDIS_URL"

	EnvGCPProjectID          = "PARTSCAN_GCP_PROJECT_ID"
	EnvPubSubInventoryTopic  = "PARTSCAN_PUBSUB_INVENTORY_TOPIC"
	EnvPubSubRequestsTopic   = "PARTSCAN_PUBSUB_REQUESTS_TOPIC"
	EnvCronLowStockThreshold = "PARTSCAN_CRON_LOW_STOCK_THRESHOLD"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
