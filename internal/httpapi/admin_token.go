// Package httpapi's admin token holder guards the /admin/v1 credential
// management endpoints. Grounded on the teacher's admin_token.go
// (AdminTokenHolder's env/persisted/generated precedence and on-disk
// persistence shape, kept verbatim); the host-API-key provisioning
// (ProvisionHostAPIKey, apikey.Manager-dependent) has no analogue — this
// gateway authenticates admin callers by one bearer token, not per-caller
// API keys.
package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AdminTokenHolder provides thread-safe access to the admin token with
// persistence to the data directory. The token survives process restarts
// and can be replaced at runtime with Rotate; no HTTP route calls Rotate.
type AdminTokenHolder struct {
	mu      sync.RWMutex
	token   string
	dataDir string // directory used for token persistence; "" disables persistence
}

// NewAdminTokenHolder creates a holder and resolves the initial token using
// the following precedence:
//
//  1. Explicit env/config value (operator-provided, source of truth)
//  2. Previously persisted token from dataDir
//  3. Newly generated random token
//
// The resolved token is always persisted so that future restarts without the
// env var pick up the same token.
func NewAdminTokenHolder(configToken, dataDir string, logger *slog.Logger) (*AdminTokenHolder, error) {
	h := &AdminTokenHolder{dataDir: dataDir}

	switch {
	case configToken != "":
		h.token = configToken
	default:
		if persisted := h.readPersisted(); persisted != "" {
			h.token = persisted
		}
	}

	if h.token == "" {
		tokenBytes := make([]byte, 32)
		if _, err := rand.Read(tokenBytes); err != nil {
			return nil, fmt.Errorf("generate admin token: %w", err)
		}
		h.token = hex.EncodeToString(tokenBytes)
		logger.Warn("RELAYGATE_ADMIN_TOKEN not set — auto-generated token (retrieve with: relaygatectl admin-token)")
	}

	h.persist(logger)
	return h, nil
}

// Get returns the current admin token.
func (h *AdminTokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// ConstantTimeEqual returns true if the provided token matches the current
// admin token using constant-time comparison.
func (h *AdminTokenHolder) ConstantTimeEqual(provided string) bool {
	h.mu.RLock()
	current := h.token
	h.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(provided), []byte(current)) == 1
}

// Rotate generates a new random token, persists it, and returns the new token.
func (h *AdminTokenHolder) Rotate(logger *slog.Logger) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	newToken := hex.EncodeToString(tokenBytes)

	h.mu.Lock()
	h.token = newToken
	h.mu.Unlock()

	h.persist(logger)
	return newToken, nil
}

func (h *AdminTokenHolder) readPersisted() string {
	if h.dataDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(h.dataDir, ".admin-token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (h *AdminTokenHolder) persist(logger *slog.Logger) {
	if h.dataDir == "" {
		return
	}
	h.mu.RLock()
	token := h.token
	h.mu.RUnlock()

	if err := os.WriteFile(filepath.Join(h.dataDir, ".admin-token"), []byte(token+"\n"), 0600); err != nil {
		logger.Warn("failed to write admin token file", slog.String("error", err.Error()))
	}
}
