// Package app wires every gateway singleton together and boots the HTTP
// server. Grounded on the teacher's internal/app/config.go (the
// getEnv*-helper env-loading style and Validate shape, both kept close to
// the original), renamed env prefix and narrowed to this gateway's own
// settings — Temporal config has no analogue (see server.go's doc comment);
// OTel tracing is kept, since internal/tracing is ambient stack carried
// regardless of domain.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds every environment-derived setting this gateway needs to
// boot.
type Config struct {
	ListenAddr string
	LogLevel   string

	// StoreDSN selects the Store backend: "mem" for an in-process MemStore
	// (tests, single-node trials) or a redis:// URL for RedisStore.
	StoreDSN string

	StatslogDSN string // sqlite DSN for the request-log audit trail; "" disables it

	VaultEnabled  bool
	VaultPassword string // auto-unlock vault at startup if set

	AdminToken     string   // required for /admin/v1 access in production; auto-generated if unset
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	IdempotencyTTL        time.Duration
	IdempotencyMaxEntries int

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	DataDir string // directory used for admin-token persistence
}

// LoadConfig reads Config from the RELAYGATE_* environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("RELAYGATE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("RELAYGATE_LOG_LEVEL", "info"),

		StoreDSN:    getEnv("RELAYGATE_STORE_DSN", "mem"),
		StatslogDSN: getEnv("RELAYGATE_STATSLOG_DSN", "file:/data/relaygate-requests.sqlite"),

		VaultEnabled:  getEnvBool("RELAYGATE_VAULT_ENABLED", true),
		VaultPassword: getEnv("RELAYGATE_VAULT_PASSWORD", ""),

		AdminToken:     getEnv("RELAYGATE_ADMIN_TOKEN", ""),
		RateLimitRPS:   getEnvInt("RELAYGATE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("RELAYGATE_RATE_LIMIT_BURST", 120),

		IdempotencyTTL:        getEnvDuration("RELAYGATE_IDEMPOTENCY_TTL", 10*time.Minute),
		IdempotencyMaxEntries: getEnvInt("RELAYGATE_IDEMPOTENCY_MAX_ENTRIES", 10000),

		OTelEnabled:     getEnvBool("RELAYGATE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("RELAYGATE_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("RELAYGATE_OTEL_SERVICE_NAME", "relaygate"),

		DataDir: getEnv("RELAYGATE_DATA_DIR", defaultDataDir()),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RELAYGATE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RELAYGATE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.StoreDSN == "" {
		return fmt.Errorf("RELAYGATE_STORE_DSN must not be empty")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("RELAYGATE_IDEMPOTENCY_TTL must be > 0, got %s", c.IdempotencyTTL)
	}
	if c.IdempotencyMaxEntries <= 0 {
		return fmt.Errorf("RELAYGATE_IDEMPOTENCY_MAX_ENTRIES must be > 0, got %d", c.IdempotencyMaxEntries)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".relaygate")
	}
	return ""
}
