package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestAdminRouter(t *testing.T, d Dependencies) (*chi.Mux, string) {
	t.Helper()
	holder, err := NewAdminTokenHolder("a-test-admin-token", "", slog.Default())
	require.NoError(t, err)
	d.AdminToken = holder

	mux := chi.NewRouter()
	mux.Route("/admin/v1", func(admin chi.Router) {
		admin.Use(adminAuthMiddleware(d.AdminToken))
		admin.Get("/credentials", AdminListCredentialsHandler(d))
		admin.Post("/credentials", AdminAddCredentialHandler(d))
		admin.Delete("/credentials/{handle}", AdminRemoveCredentialHandler(d))
		admin.Post("/credentials/{handle}/reactivate", AdminReactivateCredentialHandler(d))
	})
	return mux, holder.Get()
}

func TestAdminCredentialsRequiresBearerToken(t *testing.T) {
	d, _ := newTestDeps(t, "http://unused.invalid")
	mux, _ := newTestAdminRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/credentials", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAddListRemoveCredential(t *testing.T) {
	d, _ := newTestDeps(t, "http://unused.invalid")
	mux, token := newTestAdminRouter(t, d)

	addBody, _ := json.Marshal(adminAddCredentialRequest{Token: "raw-token-1", Models: []string{"gemini-2.5-pro"}})
	addReq := httptest.NewRequest(http.MethodPost, "/admin/v1/credentials", bytes.NewReader(addBody))
	addReq.Header.Set("Authorization", "Bearer "+token)
	addRec := httptest.NewRecorder()
	mux.ServeHTTP(addRec, addReq)
	require.Equal(t, http.StatusCreated, addRec.Code)

	var added map[string]string
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &added))
	handle := added["handle"]
	require.NotEmpty(t, handle)

	listReq := httptest.NewRequest(http.MethodGet, "/admin/v1/credentials", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listed map[string][]adminCredentialView
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed["credentials"], 1)
	require.Equal(t, handle, listed["credentials"][0].Handle)

	delReq := httptest.NewRequest(http.MethodDelete, "/admin/v1/credentials/"+handle, nil)
	delReq.Header.Set("Authorization", "Bearer "+token)
	delRec := httptest.NewRecorder()
	mux.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestAdminReactivateCredential(t *testing.T) {
	ctx := context.Background()
	d, reg := newTestDeps(t, "http://unused.invalid")
	mux, token := newTestAdminRouter(t, d)

	handle, err := reg.Add(ctx, "raw-token-2", []string{"gemini-2.5-pro"}, "", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.RecordOutcome(ctx, handle, false))
	}
	rec, _, err := reg.Get(ctx, handle)
	require.NoError(t, err)
	require.False(t, rec.Active)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/credentials/"+handle+"/reactivate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	httpRec := httptest.NewRecorder()
	mux.ServeHTTP(httpRec, req)
	require.Equal(t, http.StatusOK, httpRec.Code)

	rec, _, err = reg.Get(ctx, handle)
	require.NoError(t, err)
	require.True(t, rec.Active)
	require.Equal(t, 100, rec.HealthScore)
}
