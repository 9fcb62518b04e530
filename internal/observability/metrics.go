// Package observability holds the process-wide Prometheus collectors and the
// OpenTelemetry tracer used by the estimation engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage outcomes.
const (
	OutcomeHit       = "hit"
	OutcomeMiss      = "miss"
	OutcomeTimeout   = "timeout"
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"
)

var (
	// estimationsTotal counts top-level and recursive results by origin.
	estimationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guesstimate_estimations_total",
		Help: "Estimation results by tier and phase",
	}, []string{"tier", "phase"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guesstimate_stage_duration_seconds",
		Help:    "Escalation stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	}, []string{"stage"})

	stageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guesstimate_stage_outcomes_total",
		Help: "Escalation stage outcomes",
	}, []string{"stage", "outcome"})

	rulesLearned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guesstimate_rules_learned_total",
		Help: "Learned rules written back to the rule store",
	})

	fermiCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guesstimate_fermi_candidates",
		Help:    "Decomposition candidates surviving the variable policy",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})

	embeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guesstimate_embedding_cache_total",
		Help: "Embedding cache lookups by result",
	}, []string{"result"})

	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guesstimate_oracle_calls_total",
		Help: "External oracle calls by backend and result",
	}, []string{"backend", "result"})
)

// RecordEstimation counts a result.
func RecordEstimation(tier, phase string) {
	estimationsTotal.WithLabelValues(tier, phase).Inc()
}

// RecordStage records how long a stage ran and how it ended.
func RecordStage(stage, outcome string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// RecordRuleLearned counts a rule write.
func RecordRuleLearned() { rulesLearned.Inc() }

// RecordFermiCandidates records the surviving candidate count.
func RecordFermiCandidates(n int) { fermiCandidates.Observe(float64(n)) }

// RecordEmbeddingCache counts a cache hit or miss.
func RecordEmbeddingCache(hit bool) {
	if hit {
		embeddingCache.WithLabelValues(OutcomeHit).Inc()
		return
	}
	embeddingCache.WithLabelValues(OutcomeMiss).Inc()
}

// RecordOracleCall counts an external call; result is "ok", "error" or
// "rejected".
func RecordOracleCall(backend, result string) {
	oracleCalls.WithLabelValues(backend, result).Inc()
}
