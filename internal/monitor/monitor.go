// Package monitor implements the BackgroundMonitor: the set of periodic
// loops that keep credential health, model catalogs, rate-window state, and
// the daily quota boundary converged without any request in flight.
// Grounded on the teacher's internal/health/prober.go (parallel-probe-
// goroutines shape, the primary template for RecoveryLoop) and
// internal/apikey/manager.go's EnforceRotation (periodic-ticker-loop-
// against-registry texture), with exact loop intervals and the daily
// quota-zone trigger window from original_source health_monitor.py.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ncarlsson/relaygate/internal/catalog"
	"github.com/ncarlsson/relaygate/internal/credential"
	"github.com/ncarlsson/relaygate/internal/rateaccountant"
	"github.com/ncarlsson/relaygate/internal/statslog"
	"github.com/ncarlsson/relaygate/internal/upstream"
)

const (
	recoveryInterval     = 300 * time.Second
	modelRedetectInterval = 300 * time.Second
	cleanupInterval      = 60 * time.Second
	dailyResetPoll       = 60 * time.Second
	pruneEvery           = time.Hour
)

// Monitor runs the four background loops for as long as its context stays
// alive. All four are independent and safe to run concurrently — none
// mutates state another depends on synchronously.
type Monitor struct {
	registry   *credential.Registry
	accountant *rateaccountant.Accountant
	upstream   *upstream.Client
	log        *statslog.Log // optional
	logger     *slog.Logger

	lastPrune   time.Time
	lastPruneMu sync.Mutex
}

// New constructs a Monitor. log may be nil to disable request-log pruning.
func New(registry *credential.Registry, accountant *rateaccountant.Accountant, up *upstream.Client, log *statslog.Log, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{registry: registry, accountant: accountant, upstream: up, log: log, logger: logger}
}

// Run starts all four loops and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){
		m.recoveryLoop,
		m.modelRedetectLoop,
		m.cleanupLoop,
		m.dailyResetLoop,
	}
	wg.Add(len(loops))
	for _, loop := range loops {
		loop := loop
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
}

// recoveryLoop re-probes every deactivated credential every recoveryInterval
// and reactivates any that respond successfully to a cheap TestKey probe.
func (m *Monitor) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recoverOnce(ctx)
		}
	}
}

func (m *Monitor) recoverOnce(ctx context.Context) {
	all, err := m.registry.ListAll(ctx)
	if err != nil {
		m.logger.Error("recovery: list credentials", slog.Any("error", err))
		return
	}
	var wg sync.WaitGroup
	for _, rec := range all {
		if rec.Active || len(rec.Models) == 0 {
			continue
		}
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			rawToken, err := m.registry.RawToken(ctx, rec.Handle)
			if err != nil {
				return
			}
			probeModel := rec.Models[0]
			if err := m.upstream.TestKey(ctx, rawToken, probeModel); err != nil {
				return
			}
			if err := m.registry.Reactivate(ctx, rec.Handle); err != nil {
				m.logger.Error("recovery: reactivate", slog.String("handle", rec.Handle), slog.Any("error", err))
				return
			}
			m.logger.Info("credential recovered", slog.String("handle", rec.Handle))
		}()
	}
	wg.Wait()
}

// modelRedetectLoop re-lists each active credential's available models
// every modelRedetectInterval and replaces its tracked model set with
// whatever the upstream currently reports.
func (m *Monitor) modelRedetectLoop(ctx context.Context) {
	ticker := time.NewTicker(modelRedetectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.redetectOnce(ctx)
		}
	}
}

func (m *Monitor) redetectOnce(ctx context.Context) {
	active, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("redetect: list active", slog.Any("error", err))
		return
	}
	for _, rec := range active {
		rawToken, err := m.registry.RawToken(ctx, rec.Handle)
		if err != nil {
			continue
		}
		models, err := m.upstream.ListModels(ctx, rawToken)
		if err != nil {
			m.logger.Warn("redetect: list models", slog.String("handle", rec.Handle), slog.Any("error", err))
			continue
		}
		known := filterKnownModels(models)
		if err := m.registry.ReplaceModels(ctx, rec.Handle, known); err != nil {
			m.logger.Error("redetect: replace models", slog.String("handle", rec.Handle), slog.Any("error", err))
		}
	}
}

func filterKnownModels(reported []string) []string {
	out := make([]string, 0, len(reported))
	for _, id := range reported {
		if _, ok := catalog.Get(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// cleanupLoop prunes expired rate-window entries for every (handle,model)
// pair every cleanupInterval, and prunes the request log hourly.
func (m *Monitor) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupOnce(ctx)
		}
	}
}

func (m *Monitor) cleanupOnce(ctx context.Context) {
	all, err := m.registry.ListAll(ctx)
	if err != nil {
		m.logger.Error("cleanup: list credentials", slog.Any("error", err))
		return
	}
	for _, rec := range all {
		for _, model := range rec.Models {
			if err := m.accountant.Cleanup(ctx, rec.Handle, model); err != nil {
				m.logger.Error("cleanup: accountant", slog.String("handle", rec.Handle), slog.String("model", model), slog.Any("error", err))
			}
		}
	}

	if m.log == nil {
		return
	}
	m.lastPruneMu.Lock()
	due := time.Since(m.lastPrune) >= pruneEvery
	if due {
		m.lastPrune = time.Now()
	}
	m.lastPruneMu.Unlock()
	if !due {
		return
	}
	n, err := m.log.Prune(ctx, statslog.DefaultRetention)
	if err != nil {
		m.logger.Error("cleanup: prune request log", slog.Any("error", err))
		return
	}
	if n > 0 {
		m.logger.Info("request log pruned", slog.Int64("rows", n))
	}
}

// dailyResetLoop polls every dailyResetPoll and, once it observes the
// quota-zone midnight boundary, zeroes every credential's RPD counter.
// It resets at most once per quota-zone day.
func (m *Monitor) dailyResetLoop(ctx context.Context) {
	ticker := time.NewTicker(dailyResetPoll)
	defer ticker.Stop()
	lastResetDay := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if !rateaccountant.InQuotaResetWindow(now) {
				continue
			}
			day := now.In(rateaccountant.QuotaZone).Format("2006-01-02")
			if day == lastResetDay {
				continue
			}
			n, err := m.accountant.ResetDailyAll(ctx)
			if err != nil {
				m.logger.Error("daily reset", slog.Any("error", err))
				continue
			}
			lastResetDay = day
			if n > 0 {
				m.logger.Info("daily quota reset", slog.Int("counters", n))
			}
		}
	}
}
