// Package metrics holds the Prometheus collectors for assistant turns,
// language-model calls and calendar refreshes.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "calassist"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op, so
// components can be built without instrumentation in tests.
type Metrics struct {
	turns        *prometheus.CounterVec
	llmRequests  *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
	refreshTotal *prometheus.CounterVec
}

// MustNew registers the collectors with reg (the default registerer when
// nil). Collectors already registered under the same name are reused;
// any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns handled, by intent and outcome.",
		}, []string{"intent", "outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Language-model completions, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of language-model completions.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"provider"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_refresh_total",
			Help:      "Calendar snapshot refreshes, by outcome.",
		}, []string{"outcome"}),
	}

	m.turns = register(reg, m.turns)
	m.llmRequests = register(reg, m.llmRequests)
	m.llmDuration = register(reg, m.llmDuration)
	m.refreshTotal = register(reg, m.refreshTotal)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) IncTurn(intent, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(intent, outcome).Inc()
}

// ObserveLLM records one completion attempt.
func (m *Metrics) ObserveLLM(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, outcome).Inc()
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) IncRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}
