package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/vital/internal/config"
)

// Telemetry provides monitoring for turn processing and background persistence
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics

	mu     sync.RWMutex
	tokens map[string]int64 // model -> total tokens
	turns  int64
}

// Metrics holds the prometheus collectors for the pipeline
type Metrics struct {
	TurnsTotal    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	SavesTotal    *prometheus.CounterVec
	LLMRequests   *prometheus.CounterVec
	LLMTokens     *prometheus.CounterVec
}

var (
	metricsOnce    sync.Once
	sharedRegistry *Metrics
)

func newMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedRegistry = &Metrics{
			TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "vital_turns_total",
				Help: "Conversational turns processed, by outcome",
			}, []string{"outcome"}),
			StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "vital_stage_duration_seconds",
				Help:    "Pipeline stage latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"stage"}),
			SavesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "vital_background_saves_total",
				Help: "Background persistence outcomes (saved, skipped_duplicate, error)",
			}, []string{"outcome"}),
			LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "vital_llm_requests_total",
				Help: "Completion service calls, by model and outcome",
			}, []string{"model", "outcome"}),
			LLMTokens: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "vital_llm_tokens_total",
				Help: "Tokens consumed, by model and direction",
			}, []string{"model", "direction"}),
		}
	})
	return sharedRegistry
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config:  cfg,
		logger:  log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: newMetrics(),
		tokens:  make(map[string]int64),
	}
}

// RecordTurn records the outcome and duration of a full conversational turn.
func (t *Telemetry) RecordTurn(outcome string, d time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	t.metrics.StageDuration.WithLabelValues("turn").Observe(d.Seconds())
	t.mu.Lock()
	t.turns++
	t.mu.Unlock()
}

// RecordStage records the latency of a single pipeline stage.
func (t *Telemetry) RecordStage(stage string, d time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordSave records a background persistence outcome.
func (t *Telemetry) RecordSave(outcome string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.SavesTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMCall records a completion service call and its token usage.
func (t *Telemetry) RecordLLMCall(model string, inputTokens, outputTokens int64, err error) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.metrics.LLMRequests.WithLabelValues(model, outcome).Inc()
	if inputTokens > 0 {
		t.metrics.LLMTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		t.metrics.LLMTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	t.mu.Lock()
	t.tokens[model] += inputTokens + outputTokens
	t.mu.Unlock()
}

// Snapshot returns a coarse in-process view for the ops endpoint.
func (t *Telemetry) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tokens := make(map[string]int64, len(t.tokens))
	for k, v := range t.tokens {
		tokens[k] = v
	}
	return map[string]interface{}{
		"turns_processed": t.turns,
		"tokens_by_model": tokens,
	}
}
