// Package fallback implements the FallbackExecutor: the outer retry loop
// that calls the Router repeatedly, excluding (handle,model) pairs already
// tried this request and blocking a model entirely once two distinct
// credentials have hit 429 on it, up to a hard attempt cap. Grounded on the
// teacher's internal/router/engine.go RouteAndSend (the structural template
// for a switch-on-error-class retry loop) and the dead root
// orchestrator/orchestrator.go (multi-attempt-with-distinct-outcome-state
// texture); exact error-classification rules are spec.md §4.5's.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ncarlsson/relaygate/internal/catalog"
	"github.com/ncarlsson/relaygate/internal/credential"
	"github.com/ncarlsson/relaygate/internal/rateaccountant"
	"github.com/ncarlsson/relaygate/internal/router"
	"github.com/ncarlsson/relaygate/internal/statslog"
	"github.com/ncarlsson/relaygate/internal/upstream"
)

// MaxAttempts caps the outer retry loop, per spec.md §4.5.
const MaxAttempts = 20

// ErrAllExhausted is returned once no eligible (handle,model) pair remains,
// either because the catalog/registry has nothing left or MaxAttempts was
// reached.
var ErrAllExhausted = errors.New("fallback: all credentials exhausted")

// blockModelAfterDistinctRateLimits is the number of distinct credentials
// that must hit 429 on the same model before that model is blocked
// request-wide, per spec.md §4.5.
const blockModelAfterDistinctRateLimits = 2

// Request describes one inbound call to be routed and executed.
type Request struct {
	Class                catalog.Class
	RequiredCapabilities catalog.Capability
	EstimatedTokens      int
	Model                string         // requested model ID, used for embed/generate dispatch
	Body                 map[string]any // upstream request payload
	Batch                bool           // ClassEmbedding only: dispatch to BatchEmbedContents for multi-input requests
}

// Outcome is what actually happened once the request succeeded.
type Outcome struct {
	Handle       string
	Model        string
	Attempts     int
	ResponseBody []byte
}

// Executor is the FallbackExecutor.
type Executor struct {
	router     *router.Router
	registry   *credential.Registry
	accountant *rateaccountant.Accountant
	upstream   *upstream.Client
	log        *statslog.Log // optional; nil disables request logging
	logger     *slog.Logger
}

// New constructs an Executor. log may be nil to disable RequestLogEntry
// persistence (e.g. in tests).
func New(r *router.Router, reg *credential.Registry, acc *rateaccountant.Accountant, up *upstream.Client, log *statslog.Log, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{router: r, registry: reg, accountant: acc, upstream: up, log: log, logger: logger}
}

// Execute runs the outer retry loop for req, returning the first
// successful Outcome or ErrAllExhausted once every candidate has been
// tried or MaxAttempts is reached.
func (e *Executor) Execute(ctx context.Context, req Request, requestID string) (Outcome, error) {
	start := time.Now()
	excludePairs := make(map[string]bool)
	blockedModels := make(map[string]bool)
	rateLimitsByModel := make(map[string]map[string]bool) // model -> set of handles that 429'd

	exclude := func(handle, model string) bool {
		if blockedModels[model] {
			return true
		}
		if handle == "" {
			return false
		}
		return excludePairs[pairKey(handle, model)]
	}

	attempts := 0
	for attempts < MaxAttempts {
		cand, found, err := e.router.Select(ctx, req.Class, req.RequiredCapabilities, req.EstimatedTokens, req.Model, exclude)
		if err != nil {
			return Outcome{}, fmt.Errorf("fallback: select candidate: %w", err)
		}
		if !found {
			e.logExhausted(ctx, req, attempts, start, requestID)
			return Outcome{}, ErrAllExhausted
		}
		attempts++

		rawToken, err := e.registry.RawToken(ctx, cand.Handle)
		if err != nil {
			excludePairs[pairKey(cand.Handle, cand.Model)] = true
			_ = e.registry.RecordOutcome(ctx, cand.Handle, false)
			continue
		}

		body, callErr := e.call(ctx, rawToken, req)
		if callErr == nil {
			_ = e.registry.RecordOutcome(ctx, cand.Handle, true)
			tokensUsed := req.EstimatedTokens
			_ = e.accountant.Record(ctx, cand.Handle, cand.Model, tokensUsed)
			e.logSuccess(ctx, cand, attempts, start, requestID)
			return Outcome{Handle: cand.Handle, Model: cand.Model, Attempts: attempts, ResponseBody: body}, nil
		}

		excludePairs[pairKey(cand.Handle, cand.Model)] = true

		var se *upstream.StatusError
		if errors.As(callErr, &se) && se.StatusCode == 429 {
			if rateLimitsByModel[cand.Model] == nil {
				rateLimitsByModel[cand.Model] = make(map[string]bool)
			}
			rateLimitsByModel[cand.Model][cand.Handle] = true
			if len(rateLimitsByModel[cand.Model]) >= blockModelAfterDistinctRateLimits {
				blockedModels[cand.Model] = true
				e.logger.Info("model blocked after repeated rate limiting", slog.String("model", cand.Model))
			}
			// 429 is not a credential fault: no health penalty.
			e.logAttempt(ctx, cand, "rate_limited", 429, attempts, requestID)
			continue
		}

		// Any other upstream error or transport/unknown failure is a
		// credential fault.
		_ = e.registry.RecordOutcome(ctx, cand.Handle, false)
		statusCode := 0
		errClass := "transport_error"
		if errors.As(callErr, &se) {
			statusCode = se.StatusCode
			errClass = "upstream_error"
		}
		e.logAttempt(ctx, cand, errClass, statusCode, attempts, requestID)
	}

	e.logExhausted(ctx, req, attempts, start, requestID)
	return Outcome{}, ErrAllExhausted
}

func (e *Executor) call(ctx context.Context, rawToken string, req Request) ([]byte, error) {
	switch req.Class {
	case catalog.ClassEmbedding:
		if req.Batch {
			return e.upstream.BatchEmbedContents(ctx, rawToken, req.Model, req.Body)
		}
		return e.upstream.EmbedContent(ctx, rawToken, req.Model, req.Body)
	default:
		return e.upstream.GenerateContent(ctx, rawToken, req.Model, req.Body)
	}
}

func pairKey(handle, model string) string {
	return handle + "|" + model
}

func (e *Executor) logSuccess(ctx context.Context, cand router.Candidate, attempts int, start time.Time, requestID string) {
	if e.log == nil {
		return
	}
	_ = e.log.Append(ctx, statslogEntry(cand.Handle, cand.Model, attempts, 200, "", start, requestID))
}

func (e *Executor) logAttempt(ctx context.Context, cand router.Candidate, errClass string, statusCode, attempts int, requestID string) {
	e.logger.Warn("fallback attempt failed",
		slog.String("handle", cand.Handle),
		slog.String("model", cand.Model),
		slog.String("error_class", errClass),
		slog.Int("status_code", statusCode),
		slog.Int("attempt", attempts),
	)
}

func (e *Executor) logExhausted(ctx context.Context, req Request, attempts int, start time.Time, requestID string) {
	e.logger.Error("fallback exhausted all candidates",
		slog.Int("attempts", attempts),
		slog.String("class", string(req.Class)),
	)
	if e.log == nil {
		return
	}
	_ = e.log.Append(ctx, statslogEntry("", strings.Join([]string{string(req.Class)}, ""), attempts, 0, "exhausted", start, requestID))
}

func statslogEntry(handle, model string, attempts, statusCode int, errClass string, start time.Time, requestID string) statslog.Entry {
	return statslog.Entry{
		Handle:     handle,
		Model:      model,
		Attempts:   attempts,
		StatusCode: statusCode,
		ErrorClass: errClass,
		LatencyMs:  time.Since(start).Milliseconds(),
		RequestID:  requestID,
	}
}
