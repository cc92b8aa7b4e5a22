package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListModelsParsesShortNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{
				{"name": "models/gemini-2.5-pro"},
				{"name": "models/gemini-2.5-flash"},
			},
		})
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL)
	models, err := c.ListModels(context.Background(), "fake-token")
	require.NoError(t, err)
	require.Equal(t, []string{"gemini-2.5-pro", "gemini-2.5-flash"}, models)
}

func TestGenerateContentReturnsStatusErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL)
	_, err := c.post(context.Background(), srv.URL, map[string]any{"x": 1})
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestGenerateContentSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.String(), "key=fake-token")
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []map[string]any{}})
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL)
	body, err := c.GenerateContent(context.Background(), "fake-token", "gemini-2.5-pro", map[string]any{
		"contents": []map[string]any{{"parts": []map[string]string{{"text": "hi"}}}},
	})
	require.NoError(t, err)
	require.Contains(t, string(body), "candidates")
}

func TestEstimateTokens(t *testing.T) {
	// 40 chars -> 40/4 = 10 tokens -> *1.2 = 12.
	n := EstimateTokens("0123456789012345678901234567890123456789")
	require.Equal(t, 12, n)
}
