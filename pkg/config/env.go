package config

const (
	EnvPrefix = "PIXELFORGE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DefaultSQLiteDSN = "file:pixelforge.db?_foreign_keys=on"

	EnvAppEnv       = "PIXELFORGE_APP_ENV"
	EnvPort         = "PIXELFORGE_APP_PORT"
	EnvDBDSN        = "PIXELFORGE_DB_DSN"
	EnvDBDriver     = "PIXELFORGE_DB_DRIVER"
	EnvDBHost       = "PIXELFORGE_DB_HOST"
	EnvDBUser       = "PIXELFORGE_DB_USER"
	EnvDBName       = "PIXELFORGE_DB_NAME"
	EnvRedisURL     = "PIXELFORGE_REDIS_URL"
	EnvJWTSecret    = "PIXELFORGE_JWT_SECRET"
	EnvJWTIssuer    = "PIXELFORGE_JWT_ISSUER"
	EnvUseSQLite    = "PIXELFORGE_USE_SQLITE"
	EnvCreditPacks  = "PIXELFORGE_CREDIT_PACKS"
	EnvBasicCredits = "PIXELFORGE_PLAN_BASIC_CREDITS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
