package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RELAYGATE_LISTEN_ADDR", "RELAYGATE_LOG_LEVEL", "RELAYGATE_STORE_DSN",
		"RELAYGATE_STATSLOG_DSN", "RELAYGATE_VAULT_ENABLED", "RELAYGATE_VAULT_PASSWORD",
		"RELAYGATE_ADMIN_TOKEN", "RELAYGATE_RATE_LIMIT_RPS", "RELAYGATE_RATE_LIMIT_BURST",
		"RELAYGATE_IDEMPOTENCY_TTL", "RELAYGATE_IDEMPOTENCY_MAX_ENTRIES",
		"RELAYGATE_OTEL_ENABLED", "RELAYGATE_DATA_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "mem", cfg.StoreDSN)
	require.True(t, cfg.VaultEnabled)
	require.Equal(t, 60, cfg.RateLimitRPS)
	require.Equal(t, 120, cfg.RateLimitBurst)
	require.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAYGATE_LISTEN_ADDR", ":9090")
	t.Setenv("RELAYGATE_LOG_LEVEL", "debug")
	t.Setenv("RELAYGATE_STORE_DSN", "redis://localhost:6379")
	t.Setenv("RELAYGATE_VAULT_ENABLED", "false")
	t.Setenv("RELAYGATE_RATE_LIMIT_RPS", "30")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "redis://localhost:6379", cfg.StoreDSN)
	require.False(t, cfg.VaultEnabled)
	require.Equal(t, 30, cfg.RateLimitRPS)
}

func TestLoadConfigInvalidEnvFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAYGATE_VAULT_ENABLED", "notabool")
	t.Setenv("RELAYGATE_RATE_LIMIT_RPS", "notanint")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.VaultEnabled)
	require.Equal(t, 60, cfg.RateLimitRPS)
}

func TestLoadConfigRejectsInvalidRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAYGATE_RATE_LIMIT_RPS", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func newTestConfig(t *testing.T) Config {
	return Config{
		ListenAddr:            ":0",
		LogLevel:              "error",
		StoreDSN:              "mem",
		StatslogDSN:           "",
		VaultEnabled:          true,
		RateLimitRPS:          60,
		RateLimitBurst:        120,
		IdempotencyTTL:        time.Minute,
		IdempotencyMaxEntries: 100,
		AdminToken:            "test-admin-token",
		DataDir:               "",
	}
}

func TestNewServer(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	require.NotNil(t, srv)
}

func TestNewServerHasRouter(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	require.NotNil(t, srv.Router())
}

func TestServerClose(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}

func TestServerRoutesHealthz(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	// No credentials registered yet: degraded, not a routing crash.
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerRoutesModelsList(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerAdminRoutesRequireToken(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/credentials", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
