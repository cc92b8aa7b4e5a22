package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestModelsListHandlerListsCatalog(t *testing.T) {
	d, _ := newTestDeps(t, "http://unused.invalid")
	mux := chi.NewRouter()
	mux.Get("/v1/models", ModelsListHandler(d))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp modelListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	require.NotEmpty(t, resp.Data)

	found := false
	for _, m := range resp.Data {
		if m.ID == "gemini-2.5-pro" {
			found = true
		}
	}
	require.True(t, found)
}
