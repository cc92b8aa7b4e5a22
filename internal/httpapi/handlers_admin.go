package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type adminCredentialView struct {
	Handle            string   `json:"handle"`
	Email             string   `json:"email,omitempty"`
	ProjectID         string   `json:"project_id,omitempty"`
	Models            []string `json:"models"`
	HealthScore       int      `json:"health_score"`
	ConsecutiveErrors int      `json:"consecutive_errors"`
	Active            bool     `json:"active"`
}

// AdminListCredentialsHandler lists every known credential (metadata only —
// raw tokens are never returned by this surface).
func AdminListCredentialsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := d.Registry.ListAll(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]adminCredentialView, 0, len(records))
		for _, rec := range records {
			out = append(out, adminCredentialView{
				Handle: rec.Handle, Email: rec.Email, ProjectID: rec.ProjectID,
				Models: rec.Models, HealthScore: rec.HealthScore,
				ConsecutiveErrors: rec.ConsecutiveErrors, Active: rec.Active,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"credentials": out})
	}
}

type adminAddCredentialRequest struct {
	Token     string   `json:"token"`
	Models    []string `json:"models"`
	Email     string   `json:"email"`
	ProjectID string   `json:"project_id"`
}

// AdminAddCredentialHandler onboards a raw credential token.
func AdminAddCredentialHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminAddCredentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Token == "" {
			jsonError(w, "token is required", http.StatusBadRequest)
			return
		}
		handle, err := d.Registry.Add(r.Context(), req.Token, req.Models, req.Email, req.ProjectID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"handle": handle})
	}
}

// AdminRemoveCredentialHandler deletes a credential's metadata and raw
// token. Idempotent.
func AdminRemoveCredentialHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "handle")
		if err := d.Registry.Remove(r.Context(), handle); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminReactivateCredentialHandler manually re-enables a deactivated
// credential, resetting its health score, outside BackgroundMonitor's
// automatic RecoveryLoop.
func AdminReactivateCredentialHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "handle")
		if err := d.Registry.Reactivate(r.Context(), handle); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"handle": handle, "status": "active"})
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
