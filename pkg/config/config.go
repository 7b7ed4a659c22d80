package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	Inventory InventoryConfig
	Pricing   PricingConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	CORS      CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BACKOFFICE_APP_ENV" required:"true"`
	Port         string `envconfig:"BACKOFFICE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BACKOFFICE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BACKOFFICE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BACKOFFICE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BACKOFFICE_DB_DSN"`
	Driver string `envconfig:"BACKOFFICE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BACKOFFICE_DB_HOST"`
	LegacyPort     int    `envconfig:"BACKOFFICE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BACKOFFICE_DB_USER"`
	LegacyPassword string `envconfig:"BACKOFFICE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BACKOFFICE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BACKOFFICE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BACKOFFICE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BACKOFFICE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BACKOFFICE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BACKOFFICE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"BACKOFFICE_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BACKOFFICE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BACKOFFICE_REDIS_ADDR"`
	Password     string        `envconfig:"BACKOFFICE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BACKOFFICE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BACKOFFICE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BACKOFFICE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BACKOFFICE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BACKOFFICE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BACKOFFICE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// InventoryConfig tunes ledger behavior shared by API and workers.
type InventoryConfig struct {
	ExpiringBatchDefaultDays int `envconfig:"BACKOFFICE_INVENTORY_EXPIRING_DAYS" default:"30"`
	ExpiringBatchMaxDays     int `envconfig:"BACKOFFICE_INVENTORY_EXPIRING_MAX_DAYS" default:"365"`
}

type PricingConfig struct {
	MaxTiersPerVariant int `envconfig:"BACKOFFICE_PRICING_MAX_TIERS" default:"20"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BACKOFFICE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BACKOFFICE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BACKOFFICE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	FulfillmentTopic        string `envconfig:"BACKOFFICE_PUBSUB_FULFILLMENT_TOPIC" default:"bo-fulfillment-events"`
	FulfillmentSubscription string `envconfig:"BACKOFFICE_PUBSUB_FULFILLMENT_SUBSCRIPTION"`
	InventoryTopic          string `envconfig:"BACKOFFICE_PUBSUB_INVENTORY_TOPIC" default:"bo-inventory-events"`
	InventorySubscription   string `envconfig:"BACKOFFICE_PUBSUB_INVENTORY_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize        int `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS   int `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts      int `envconfig:"BACKOFFICE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeoutMS int `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_TIMEOUT_MS" default:"15000"`
	MaxBackoffMS     int `envconfig:"BACKOFFICE_OUTBOX_MAX_BACKOFF_MS" default:"10000"`
	JitterMS         int `envconfig:"BACKOFFICE_OUTBOX_JITTER_MS" default:"250"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"BACKOFFICE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
