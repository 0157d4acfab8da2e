// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_extraction_attempts_total",
			Help: "Extraction tier invocations by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docingest_extraction_duration_seconds",
			Help:    "Duration of extraction tier invocations in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"method"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docingest_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 1200},
		},
		[]string{"pipeline", "step", "status"},
	)

	PipelineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_pipeline_failures_total",
			Help: "Pipelines that exhausted their retries, by failure reason",
		},
		[]string{"pipeline", "reason"},
	)

	ChunksIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_chunks_indexed_total",
			Help: "Chunks written to the vector store by indexing phase",
		},
		[]string{"phase"},
	)

	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_rate_limit_decisions_total",
			Help: "Rate limiter decisions",
		},
		[]string{"decision"},
	)
)

// RecordExtraction records one tier invocation.
func RecordExtraction(method, outcome string, d time.Duration) {
	ExtractionAttempts.WithLabelValues(method, outcome).Inc()
	ExtractionDuration.WithLabelValues(method).Observe(d.Seconds())
}

func RecordStep(pipeline, step, status string, d time.Duration) {
	StepDuration.WithLabelValues(pipeline, step, status).Observe(d.Seconds())
}
