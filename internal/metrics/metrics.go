// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var GoalEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "goals",
	Name:      "evaluations_total",
	Help:      "Goal evaluations by metric type and outcome (changed, unchanged, skipped, error).",
}, []string{"metric", "outcome"})

var GoalsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "goals",
	Name:      "completed_total",
	Help:      "Goals that transitioned to completed.",
})

var EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "khata",
	Subsystem: "goals",
	Name:      "refresh_duration_seconds",
	Help:      "Time spent refreshing all active goals.",
	Buckets:   prometheus.DefBuckets,
})

var WaterfallPool = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "khata",
	Subsystem: "goals",
	Name:      "waterfall_pool",
	Help:      "Month-to-date net profit pool used by the last waterfall allocation.",
})

var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Ledger mutations by operation.",
}, []string{"op"})

var LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "ledger",
	Name:      "conflicts_total",
	Help:      "Ledger mutations rolled back because a record changed concurrently.",
})

var LedgerAnomalies = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "khata",
	Subsystem: "ledger",
	Name:      "anomalies_seen_total",
	Help:      "Records observed with a balance not backed by any entry.",
})
