package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

type Config struct {
	Backend        string
	DBSource       string
	BoltPath       string
	RedisAddr      string
	Port           string
	Env            string
	// AutoMigrate applies pending schema migrations when the API starts.
	AutoMigrate    bool
	RequestTimeout time.Duration
	LockTTL        time.Duration
	Features       Features
}

// Features are product switches. They are handed to the service calls that
// need them rather than read from the environment at call time.
type Features struct {
	// EraseOnAccountDelete lets account deletion remove the account's
	// mandates and captures.
	EraseOnAccountDelete bool
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func Load() (*Config, error) {
	backend := getenv("STORE_BACKEND", BackendPostgres)

	dbSource := os.Getenv("DB_SOURCE")
	switch backend {
	case BackendPostgres:
		if dbSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case BackendBolt:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}

	requestTimeout, err := time.ParseDuration(getenv("REQUEST_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	lockTTL, err := time.ParseDuration(getenv("LOCK_TTL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}

	autoMigrate, err := strconv.ParseBool(getenv("AUTO_MIGRATE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
	}

	eraseOnDelete, err := strconv.ParseBool(getenv("FEATURE_ERASE_ON_DELETE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEATURE_ERASE_ON_DELETE: %w", err)
	}

	return &Config{
		Backend:        backend,
		DBSource:       dbSource,
		BoltPath:       getenv("BOLT_PATH", "mandates.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		Port:           getenv("SERVER_PORT", "8080"),
		Env:            getenv("ENVIRONMENT", "production"),
		AutoMigrate:    autoMigrate,
		RequestTimeout: requestTimeout,
		LockTTL:        lockTTL,
		Features: Features{
			EraseOnAccountDelete: eraseOnDelete,
		},
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
