package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHealthCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	err := runHealthCheck(portSuffix(srv.URL))
	require.NoError(t, err)
}

func TestRunHealthCheck_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := runHealthCheck(portSuffix(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check returned status 503")
}

func TestRunHealthCheck_ConnectionError(t *testing.T) {
	err := runHealthCheck(":19") // chargen port, unlikely to be in use
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check request failed")
}

func TestVersionDefault(t *testing.T) {
	assert.Equal(t, "dev", version, "version should default to 'dev' when not set via ldflags")
}

func portSuffix(url string) string {
	parts := strings.TrimPrefix(url, "http://")
	colonIdx := strings.LastIndex(parts, ":")
	return parts[colonIdx:]
}
