package httpapi

import (
	"github.com/ncarlsson/relaygate/internal/events"
)

// observeParams carries everything recordObservability needs to fan a
// completed (or failed) request out to every observability sink.
type observeParams struct {
	Class      string
	Model      string
	Handle     string
	Attempts   int
	LatencyMs  int64
	Success    bool
	ErrorClass string
	RequestID  string

	PromptTokens     int
	CompletionTokens int
}

// recordObservability fans a completed request out to the metrics registry
// and the event bus, the same single-call-site-with-nil-checked-sinks
// pattern the teacher's handlers_openai.go/observe.go uses, narrowed to the
// two sinks this gateway actually keeps (the teacher's Store/Stats/TSDB/
// BudgetChecker fan-out has no analogue — those packages are gone).
func recordObservability(d Dependencies, p observeParams) {
	status := "error"
	if p.Success {
		status = "success"
	}

	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues(p.Class, p.Model, status).Inc()
		d.Metrics.RequestLatency.WithLabelValues(p.Class, p.Model).Observe(float64(p.LatencyMs))
		if p.Attempts > 0 {
			d.Metrics.FallbackAttempts.Observe(float64(p.Attempts))
		}
		if p.PromptTokens > 0 {
			d.Metrics.TokensTotal.WithLabelValues(p.Model, "prompt").Add(float64(p.PromptTokens))
		}
		if p.CompletionTokens > 0 {
			d.Metrics.TokensTotal.WithLabelValues(p.Model, "completion").Add(float64(p.CompletionTokens))
		}
	}

	if d.EventBus == nil {
		return
	}
	if p.Success {
		d.EventBus.Publish(events.Event{
			Type:      events.EventRouteSuccess,
			Handle:    p.Handle,
			Model:     p.Model,
			Attempts:  p.Attempts,
			LatencyMs: float64(p.LatencyMs),
		})
		return
	}
	d.EventBus.Publish(events.Event{
		Type:       events.EventRouteError,
		Model:      p.Model,
		Attempts:   p.Attempts,
		LatencyMs:  float64(p.LatencyMs),
		ErrorClass: p.ErrorClass,
	})
}
