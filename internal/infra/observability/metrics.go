package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/verdesk/verai-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	turnDuration    *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	turnsTotal      *prometheus.CounterVec
	onboardingSteps *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verai_turn_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verai_external_errors_total",
				Help: "Total errors from external collaborators.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verai_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verai_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verai_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verai_turns_total",
				Help: "Total conversation turns processed.",
			},
			[]string{"status"},
		),
		onboardingSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verai_onboarding_steps_total",
				Help: "Conversation step transitions produced by the onboarding machine.",
			},
			[]string{"step"},
		),
	}
}

// RecordTurnDuration records the duration of an operation.
func (m *Metrics) RecordTurnDuration(operation string, d time.Duration) {
	m.turnDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrTurn increments the turn counter with a status label.
func (m *Metrics) IncrTurn(status string) {
	m.turnsTotal.WithLabelValues(status).Inc()
}

// IncrOnboardingStep records a step transition.
func (m *Metrics) IncrOnboardingStep(step string) {
	m.onboardingSteps.WithLabelValues(step).Inc()
}

// GetAssistantSnapshot returns a snapshot of assistant-related metrics
// suitable for the GET /v1/metrics/assistant endpoint.
func (m *Metrics) GetAssistantSnapshot() *domain.AssistantMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	totalTurns := getCounterValue(m.turnsTotal, "success") +
		getCounterValue(m.turnsTotal, "error")
	errorCount := getCounterValue(m.turnsTotal, "error")
	cacheHits := getCounterValue(m.cacheHits, "retrieval")
	cacheMisses := getCounterValue(m.cacheMisses, "retrieval")
	completed := getCounterValue(m.onboardingSteps, string(domain.StepMainConversation))

	totalTokens := promptTokens + completionTokens
	avgTokens := float64(0)
	errorRate := float64(0)
	cacheHitRate := float64(0)

	if totalTurns > 0 {
		avgTokens = totalTokens / totalTurns
		errorRate = errorCount / totalTurns
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	// Estimated cost: ~$0.15/1M prompt tokens, ~$0.60/1M completion tokens (gpt-4o-mini)
	estimatedCost := (promptTokens/1_000_000)*0.15 + (completionTokens/1_000_000)*0.60

	return &domain.AssistantMetrics{
		TotalTurns:          int64(totalTurns),
		ErrorRate:           errorRate,
		AvgTokensPerTurn:    avgTokens,
		EstimatedCostUsd:    estimatedCost,
		RetrievalCacheRate:  cacheHitRate,
		OnboardingCompleted: int64(completed),
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
