// Package app wires every gateway singleton together: the Store, Vault,
// CredentialRegistry, RateAccountant, Router, FallbackExecutor,
// BackgroundMonitor, statslog, and the HTTP surface. Grounded on the
// teacher's internal/app/server.go (the NewServer construction order —
// logging → tracing → metrics → rate limiter → vault → store → ... →
// chi router and middleware → MountRoutes — and the Close()/drain-then-stop-background-
// workers shutdown shape, both kept close to the original). The teacher's
// Temporal workflow engine, circuit breaker, TSDB, stats/bandit collector,
// and API-key manager have no analogue here — see DESIGN.md's dropped-
// package entries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ncarlsson/relaygate/internal/credential"
	"github.com/ncarlsson/relaygate/internal/events"
	"github.com/ncarlsson/relaygate/internal/fallback"
	"github.com/ncarlsson/relaygate/internal/httpapi"
	"github.com/ncarlsson/relaygate/internal/idempotency"
	"github.com/ncarlsson/relaygate/internal/logging"
	"github.com/ncarlsson/relaygate/internal/metrics"
	"github.com/ncarlsson/relaygate/internal/monitor"
	"github.com/ncarlsson/relaygate/internal/rateaccountant"
	"github.com/ncarlsson/relaygate/internal/ratelimit"
	"github.com/ncarlsson/relaygate/internal/router"
	"github.com/ncarlsson/relaygate/internal/statslog"
	"github.com/ncarlsson/relaygate/internal/store"
	"github.com/ncarlsson/relaygate/internal/tracing"
	"github.com/ncarlsson/relaygate/internal/upstream"
	"github.com/ncarlsson/relaygate/internal/vault"
)

// Server owns every long-lived singleton and the HTTP mux built on top of
// them.
type Server struct {
	cfg Config

	r *chi.Mux

	store      store.Store
	vault      *vault.Vault
	registry   *credential.Registry
	accountant *rateaccountant.Accountant
	executor   *fallback.Executor
	monitor    *monitor.Monitor
	statslog   *statslog.Log // nil when StatslogDSN is unset
	logger     *slog.Logger

	rateLimiter      *ratelimit.Limiter
	idempotencyCache *idempotency.Cache
	otelShutdown     func(context.Context) error

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	httpServer *http.Server // set via SetHTTPServer; used by Close() to drain in-flight requests
}

// NewServer constructs every singleton in dependency order and mounts the
// HTTP surface.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName),
		)
	}

	m := metrics.New()

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimitedTotal))

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		return nil, fmt.Errorf("vault init: %w", err)
	}
	if cfg.VaultPassword != "" && cfg.VaultEnabled {
		logger.Warn("RELAYGATE_VAULT_PASSWORD is set: vault password is visible in the process environment — prefer a secrets manager in production")
		if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
			logger.Error("failed to auto-unlock vault from RELAYGATE_VAULT_PASSWORD", slog.String("error", err.Error()))
		} else {
			logger.Info("vault auto-unlocked from RELAYGATE_VAULT_PASSWORD")
		}
	}

	st, err := openStore(context.Background(), cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}
	logger.Info("store initialized", slog.String("dsn", redactDSN(cfg.StoreDSN)))

	reg := credential.New(st, v, logger)
	acc := rateaccountant.New(st)
	rt := router.New(reg, acc)
	up := upstream.New()

	var sl *statslog.Log
	if cfg.StatslogDSN != "" {
		sl, err = statslog.Open(context.Background(), cfg.StatslogDSN)
		if err != nil {
			logger.Warn("failed to initialize statslog — request audit log disabled", slog.String("error", err.Error()))
			sl = nil
		}
	}

	ex := fallback.New(rt, reg, acc, up, sl, logger)

	active, err := reg.ActiveHandles(context.Background())
	if err != nil {
		logger.Warn("failed to list active credentials at startup", slog.String("error", err.Error()))
	} else if len(active) == 0 {
		logger.Warn("NO CREDENTIALS REGISTERED — requests will fail until credentials are added via the admin API")
	} else {
		logger.Info("startup ready", slog.Int("active_credentials", len(active)))
	}

	mon := monitor.New(reg, acc, up, sl, logger)
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		mon.Run(monitorCtx)
	}()

	idemCache := idempotency.New(cfg.IdempotencyTTL, cfg.IdempotencyMaxEntries)
	logger.Info("idempotency cache initialized",
		slog.Duration("ttl", cfg.IdempotencyTTL), slog.Int("max_entries", cfg.IdempotencyMaxEntries))

	adminToken, err := httpapi.NewAdminTokenHolder(cfg.AdminToken, cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("admin token init: %w", err)
	}

	bus := events.NewBus()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}

	s := &Server{
		cfg:              cfg,
		r:                r,
		store:            st,
		vault:            v,
		registry:         reg,
		accountant:       acc,
		executor:         ex,
		monitor:          mon,
		statslog:         sl,
		logger:           logger,
		rateLimiter:      rl,
		idempotencyCache: idemCache,
		otelShutdown:     otelShutdown,
		monitorCancel:    monitorCancel,
		monitorDone:      monitorDone,
	}

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Executor:   ex,
		Registry:   reg,
		Metrics:    m,
		EventBus:   bus,
		AdminToken: adminToken,
		Idem:       idemCache,
		RateLimit:  rl,
		Logger:     logger,
	})

	return s, nil
}

// Router returns the root HTTP handler.
func (s *Server) Router() http.Handler { return s.r }

// SetHTTPServer registers the HTTP server so Close() can drain in-flight
// requests via http.Server.Shutdown before releasing other resources.
func (s *Server) SetHTTPServer(srv *http.Server) {
	s.httpServer = srv
}

// Close drains in-flight HTTP requests, stops the background monitor and
// rate limiter, flushes OTel spans, and closes the store.
func (s *Server) Close() error {
	if s.httpServer != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		if err := s.httpServer.Shutdown(drainCtx); err != nil {
			s.logger.Warn("HTTP drain error", slog.String("error", err.Error()))
		}
	}

	s.monitorCancel()
	<-s.monitorDone

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.idempotencyCache != nil {
		s.idempotencyCache.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// openStore opens a Store backend from dsn: "mem" for an in-process
// MemStore, otherwise a redis:// URL for RedisStore.
func openStore(ctx context.Context, dsn string) (store.Store, error) {
	if dsn == "mem" {
		return store.NewMemStore(), nil
	}
	return store.NewRedisStore(ctx, dsn)
}

// redactDSN strips credentials from a connection string before logging it.
func redactDSN(dsn string) string {
	if dsn == "mem" {
		return dsn
	}
	return "redis://<redacted>"
}
