// Package upstream implements the Gemini HTTP client: generateContent,
// embedContent/batchEmbedContents, and the lightweight models.list
// endpoint used for health probing and model re-detection. Grounded on the
// teacher's internal/providers/openai/adapter.go (request-building and
// non-200-as-error texture) and internal/providers/contract.go (the
// StatusError shape, kept as-is), with exact endpoints, timeouts, and
// token estimation from original_source hydra/services/gemini_client.py.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const apiBase = "https://generativelanguage.googleapis.com/v1beta"

// Per-call deadlines, matching spec.md §5 / SPEC_FULL.md §6.
const (
	GenerateContentTimeout  = 60 * time.Second
	ListModelsTimeout       = 15 * time.Second
	EmbedContentTimeout     = 30 * time.Second
	BatchEmbedContentTimeout = 60 * time.Second
)

// StatusError wraps a non-2xx upstream HTTP response, grounded on the
// teacher's providers.StatusError.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the Gemini API on behalf of one credential at a time — the
// raw token is supplied per-call (as a query parameter, not a header, per
// spec.md §6), never held by the client itself.
type Client struct {
	httpClient *http.Client
	base       string
}

// New constructs a Client with a shared, reusable *http.Client against the
// production Gemini endpoint.
func New() *Client {
	return &Client{httpClient: &http.Client{}, base: apiBase}
}

// NewWithBaseURL constructs a Client against a custom base URL, for tests
// and any deployment fronting Gemini through a compatible proxy.
func NewWithBaseURL(base string) *Client {
	return &Client{httpClient: &http.Client{}, base: base}
}

// GenerateContent calls models/{model}:generateContent with rawToken as
// the `key` query parameter.
func (c *Client) GenerateContent(ctx context.Context, rawToken, model string, body map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerateContentTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.base, model, rawToken)
	return c.post(ctx, url, body)
}

// EmbedContent calls models/{model}:embedContent for a single input.
func (c *Client) EmbedContent(ctx context.Context, rawToken, model string, body map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, EmbedContentTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.base, model, rawToken)
	return c.post(ctx, url, body)
}

// BatchEmbedContents calls models/{model}:batchEmbedContents for multiple
// inputs in one round trip.
func (c *Client) BatchEmbedContents(ctx context.Context, rawToken, model string, body map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, BatchEmbedContentTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", c.base, model, rawToken)
	return c.post(ctx, url, body)
}

// ListModels calls the lightweight models.list endpoint — no generation
// cost, used for health probing and model re-detection, not charged
// against the RPM/RPD/TPM windows.
func (c *Client) ListModels(ctx context.Context, rawToken string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ListModelsTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/models?key=%s", c.base, rawToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build models.list request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: models.list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read models.list body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"` // "models/gemini-2.5-pro"
		} `json:"models"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("upstream: decode models.list: %w", err)
	}
	out := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		name := m.Name
		if i := lastSlash(name); i >= 0 {
			name = name[i+1:]
		}
		out = append(out, name)
	}
	return out, nil
}

// TestKey performs a lightweight generateContent probe (5-token cap, "Say
// OK" prompt) used by RecoveryLoop to check whether a disabled credential
// has recovered, matching original_source's test_api_key.
func (c *Client) TestKey(ctx context.Context, rawToken, model string) error {
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": "Say OK"}}},
		},
		"generationConfig": map[string]any{"maxOutputTokens": 5},
	}
	_, err := c.GenerateContent(ctx, rawToken, model, body)
	return err
}

// EstimateTokens approximates token count as chars/4, with a 1.2x buffer,
// matching original_source GeminiClient.estimate_tokens. Used by the
// transport layer to derive the Router's estimatedTokens input before a
// request has actually been sent.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4.0 * 1.2))
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
