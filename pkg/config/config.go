package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Service settings
	ServerPort  int    `env:"SERVER_PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL        string        `env:"DATABASE_URL"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnIdleTime  time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	ApplySchemaOnStart bool          `env:"APPLY_SCHEMA_ON_START" envDefault:"false"`
	SchemaPath         string        `env:"SCHEMA_PATH" envDefault:"pkg/db/schema.sql"`
	StoreDriver        string        `env:"STORE_DRIVER" envDefault:"postgres"`

	// Auth
	JWTSecret           string        `env:"JWT_SECRET"`
	WSAuthTimeout       time.Duration `env:"WS_AUTH_TIMEOUT" envDefault:"10s"`
	WSAllowLegacyUserID bool          `env:"WS_ALLOW_LEGACY_USER_ID" envDefault:"false"`

	// Realtime
	RateLimitMessages int           `env:"RATE_LIMIT_MESSAGES" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	// Idempotency
	DedupTTL        time.Duration `env:"DEDUP_TTL" envDefault:"5m"`
	DedupBackend    string        `env:"DEDUP_BACKEND" envDefault:"memory"`
	DedupMaxEntries int           `env:"DEDUP_MAX_ENTRIES" envDefault:"100000"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`

	// Access policy
	DriverChatGrace   time.Duration `env:"DRIVER_CHAT_GRACE" envDefault:"15m"`
	MerchantChatGrace time.Duration `env:"MERCHANT_CHAT_GRACE" envDefault:"0s"`

	// Notifications
	NotifyBackend       string `env:"NOTIFY_BACKEND" envDefault:"log"`
	NotifyWorkers       int    `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifyQueueSize     int    `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	SendGridAPIKey      string `env:"SENDGRID_API_KEY"`
	SendGridSenderEmail string `env:"SENDGRID_SENDER_EMAIL"`
	SendGridSenderName  string `env:"SENDGRID_SENDER_NAME" envDefault:"Marketplace"`

	// HTTP
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	EnableTLS            bool     `env:"ENABLE_TLS" envDefault:"false"`
	TLSCertPath          string   `env:"TLS_CERT_PATH" envDefault:"certs/server.crt"`
	TLSKeyPath           string   `env:"TLS_KEY_PATH" envDefault:"certs/server.key"`
	TLSSelfSigned        bool     `env:"TLS_SELF_SIGNED" envDefault:"false"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"

	NotifyBackendLog   = "log"
	NotifyBackendEmail = "email"
)

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return Parse()
}

// Parse builds Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.DedupBackend {
	case DedupBackendMemory, DedupBackendRedis:
	default:
		return fmt.Errorf("unsupported DEDUP_BACKEND %q", c.DedupBackend)
	}

	switch c.NotifyBackend {
	case NotifyBackendLog:
	case NotifyBackendEmail:
		if c.SendGridAPIKey == "" || c.SendGridSenderEmail == "" {
			return errors.New("SENDGRID_API_KEY and SENDGRID_SENDER_EMAIL are required when NOTIFY_BACKEND is email")
		}
	default:
		return fmt.Errorf("unsupported NOTIFY_BACKEND %q", c.NotifyBackend)
	}

	// Without a secret only database sessions can authenticate callers.
	if strings.TrimSpace(c.JWTSecret) == "" && c.StoreDriver == StoreDriverMemory && !c.WSAllowLegacyUserID {
		return errors.New("JWT_SECRET is required with the memory store")
	}
	if c.RateLimitMessages <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_MESSAGES and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
