package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// Prometheus relay metrics.
var (
	providerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_provider_outcomes_total",
			Help: "Provider invocations by outcome.",
		},
		[]string{"provider", "outcome"},
	)
	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_provider_latency_seconds",
			Help:    "Provider invocation latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_runs_total",
			Help: "Orchestrator runs by mode and result.",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	prometheus.MustRegister(providerOutcomesTotal)
	prometheus.MustRegister(providerLatency)
	prometheus.MustRegister(runsTotal)
}

// Run results reported in relay_runs_total.
const (
	resultAnswered = "answered"
	resultNoAnswer = "no_answer"
	resultEmpty    = "empty_prompt"
	resultBadMode  = "bad_mode"
)

// invalidModeLabel replaces caller-supplied modes that are not recognised,
// keeping relay_runs_total cardinality fixed.
const invalidModeLabel = "invalid"

func observeOutcome(out domain.ProviderOutcome) {
	providerOutcomesTotal.WithLabelValues(out.Provider, out.Kind.String()).Inc()
	providerLatency.WithLabelValues(out.Provider).Observe(out.Latency.Seconds())
}

func observeRun(mode domain.Mode, result string) {
	runsTotal.WithLabelValues(modeLabel(mode), result).Inc()
}

func modeLabel(mode domain.Mode) string {
	switch mode {
	case domain.ModeFast, domain.ModeAll:
		return string(mode)
	default:
		return invalidModeLabel
	}
}
