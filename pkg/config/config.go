package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Credits      CreditsConfig
	Plans        PlansConfig
	Retention    RetentionConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PIXELFORGE_APP_ENV" required:"true"`
	Port         string `envconfig:"PIXELFORGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PIXELFORGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PIXELFORGE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PIXELFORGE_LOG_FORMAT" default:"json"`

	CORSAllowedOrigins []string `envconfig:"PIXELFORGE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PIXELFORGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PIXELFORGE_DB_DSN"`
	Driver string `envconfig:"PIXELFORGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PIXELFORGE_DB_HOST"`
	LegacyPort     int    `envconfig:"PIXELFORGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PIXELFORGE_DB_USER"`
	LegacyPassword string `envconfig:"PIXELFORGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PIXELFORGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PIXELFORGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PIXELFORGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PIXELFORGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PIXELFORGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PIXELFORGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// LockTimeout bounds how long a ledger transaction waits on the account row lock.
	LockTimeout time.Duration `envconfig:"PIXELFORGE_DB_LOCK_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PIXELFORGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PIXELFORGE_REDIS_ADDR"`
	Password     string        `envconfig:"PIXELFORGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PIXELFORGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PIXELFORGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PIXELFORGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PIXELFORGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PIXELFORGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PIXELFORGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PIXELFORGE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PIXELFORGE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PIXELFORGE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PIXELFORGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PIXELFORGE_AUTO_MIGRATE" default:"false"`
}

// CreditsConfig controls expiry defaults applied by the allocator.
type CreditsConfig struct {
	PurchaseExpiryDays int           `envconfig:"PIXELFORGE_CREDITS_PURCHASE_EXPIRY_DAYS" default:"3650"`
	BillingCycle       time.Duration `envconfig:"PIXELFORGE_CREDITS_BILLING_CYCLE" default:"720h"`
	ExpiryBatchSize    int           `envconfig:"PIXELFORGE_CREDITS_EXPIRY_BATCH_SIZE" default:"200"`
}

// PlansConfig maps plans and credit packs to Stripe prices and credit amounts.
type PlansConfig struct {
	BasicCredits        int64  `envconfig:"PIXELFORGE_PLAN_BASIC_CREDITS" default:"20"`
	StarterCredits      int64  `envconfig:"PIXELFORGE_PLAN_STARTER_CREDITS" default:"60"`
	ProfessionalCredits int64  `envconfig:"PIXELFORGE_PLAN_PROFESSIONAL_CREDITS" default:"200"`
	BasicPriceID        string `envconfig:"PIXELFORGE_PLAN_BASIC_PRICE_ID"`
	StarterPriceID      string `envconfig:"PIXELFORGE_PLAN_STARTER_PRICE_ID"`
	ProfessionalPriceID string `envconfig:"PIXELFORGE_PLAN_PROFESSIONAL_PRICE_ID"`

	// CreditPacks is a comma separated list of id:credits pairs, e.g. "pack_50:50,pack_200:200".
	CreditPacks map[string]int64 `envconfig:"PIXELFORGE_CREDIT_PACKS" default:"pack_50:50,pack_200:200,pack_1000:1000"`
}

type RetentionConfig struct {
	MaxPausesPerYear    int `envconfig:"PIXELFORGE_RETENTION_MAX_PAUSES_PER_YEAR" default:"2"`
	MaxDiscountsPerYear int `envconfig:"PIXELFORGE_RETENTION_MAX_DISCOUNTS_PER_YEAR" default:"1"`
	MaxPauseDays        int `envconfig:"PIXELFORGE_RETENTION_MAX_PAUSE_DAYS" default:"90"`
	PauseCooldownDays   int `envconfig:"PIXELFORGE_RETENTION_PAUSE_COOLDOWN_DAYS" default:"0"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"PIXELFORGE_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"PIXELFORGE_CRON_LOCK_TTL" default:"10m"`
	OutboxRetentionDays int           `envconfig:"PIXELFORGE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PIXELFORGE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PIXELFORGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PIXELFORGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic       string `envconfig:"PIXELFORGE_PUBSUB_LEDGER_TOPIC" default:"pf-ledger-events"`
	SubscriptionTopic string `envconfig:"PIXELFORGE_PUBSUB_SUBSCRIPTION_TOPIC" default:"pf-subscription-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PIXELFORGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PIXELFORGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PIXELFORGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// RateLimitConfig bounds ledger API traffic per account and per client IP.
// A zero limit disables that dimension.
type RateLimitConfig struct {
	Window       time.Duration `envconfig:"PIXELFORGE_RATE_LIMIT_WINDOW" default:"1m"`
	AccountLimit int           `envconfig:"PIXELFORGE_RATE_LIMIT_ACCOUNT" default:"120"`
	IPLimit      int           `envconfig:"PIXELFORGE_RATE_LIMIT_IP" default:"300"`
}

type StripeConfig struct {
	APIKey  string        `envconfig:"PIXELFORGE_STRIPE_API_KEY"`
	Secret  string        `envconfig:"PIXELFORGE_STRIPE_SECRET"`
	Env     string        `envconfig:"PIXELFORGE_STRIPE_ENV" default:"test"`
	Timeout time.Duration `envconfig:"PIXELFORGE_STRIPE_TIMEOUT" default:"5s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, DriverSQLite) {
		db.DSN = DefaultSQLiteDSN
		return nil
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
