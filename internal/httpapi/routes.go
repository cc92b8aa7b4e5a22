// Package httpapi wires the OpenAI-compatible transport and the admin
// credential-management surface on top of the routing core. Grounded on the
// teacher's internal/httpapi/routes.go (the Dependencies-struct-plus-
// MountRoutes shape and body-size-limit middleware, both kept close to the
// original); the teacher's Temporal/apikey/tsdb/circuitbreaker-dependent
// routes have no analogue, since those packages are dropped.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ncarlsson/relaygate/internal/credential"
	"github.com/ncarlsson/relaygate/internal/events"
	"github.com/ncarlsson/relaygate/internal/fallback"
	"github.com/ncarlsson/relaygate/internal/idempotency"
	"github.com/ncarlsson/relaygate/internal/logging"
	"github.com/ncarlsson/relaygate/internal/metrics"
	"github.com/ncarlsson/relaygate/internal/ratelimit"
)

// maxRequestBodySize bounds inbound request bodies, matching the teacher's
// constant.
const maxRequestBodySize = 10 << 20 // 10MB

// Dependencies collects everything the HTTP surface needs. Every field
// except Executor, Registry, and AdminToken may be nil; handlers and
// middleware nil-check before use.
type Dependencies struct {
	Executor   *fallback.Executor
	Registry   *credential.Registry
	Metrics    *metrics.Registry
	EventBus   *events.Bus
	AdminToken *AdminTokenHolder
	Idem       *idempotency.Cache
	RateLimit  *ratelimit.Limiter
	Logger     *slog.Logger
}

// bodySizeLimit caps the request body a handler may read.
func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountRoutes wires the gateway's HTTP surface onto r.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	}))
	if d.Logger != nil {
		r.Use(logging.RequestLogger(d.Logger))
	}

	r.Get("/healthz", healthzHandler(d))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(bodySizeLimit(maxRequestBodySize))
		if d.RateLimit != nil {
			v1.Use(d.RateLimit.Middleware)
		}
		if d.Idem != nil {
			v1.Use(idempotency.Middleware(d.Idem))
		}
		v1.Post("/chat/completions", ChatCompletionsHandler(d))
		v1.Post("/embeddings", EmbeddingsHandler(d))
		v1.Get("/models", ModelsListHandler(d))
	})

	r.Route("/admin/v1", func(admin chi.Router) {
		admin.Use(bodySizeLimit(maxRequestBodySize))
		admin.Use(adminAuthMiddleware(d.AdminToken))
		admin.Get("/credentials", AdminListCredentialsHandler(d))
		admin.Post("/credentials", AdminAddCredentialHandler(d))
		admin.Delete("/credentials/{handle}", AdminRemoveCredentialHandler(d))
		admin.Post("/credentials/{handle}/reactivate", AdminReactivateCredentialHandler(d))
	})
}

func healthzHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Registry == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		active, err := d.Registry.ActiveHandles(r.Context())
		if err != nil || len(active) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","active_credentials":0}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// adminAuthMiddleware gates /admin/v1 behind a single bearer admin token,
// grounded on the teacher's routes.go adminAuthMiddleware (constant-time
// comparison, kept verbatim).
func adminAuthMiddleware(holder *AdminTokenHolder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			authz := r.Header.Get("Authorization")
			if len(authz) <= len(prefix) || authz[:len(prefix)] != prefix || !holder.ConstantTimeEqual(authz[len(prefix):]) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
