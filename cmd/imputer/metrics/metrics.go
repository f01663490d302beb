// Package metrics provides Prometheus instrumentation for the imputer.
//
// It exposes operational metrics about the imputation run: chunk processing
// duration, running totals of entities and cells handled, skipped entity
// counts by reason, and error tracking. All metrics are exposed via the
// /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - aquafill_chunk_process_seconds: Histogram of per-chunk processing duration
//   - aquafill_chunks_done: Gauge of completed chunks in the current run
//   - aquafill_entities_processed_total: Counter of entities pulled from the source
//   - aquafill_series_emitted_total: Counter of imputed series written to the sink
//   - aquafill_cells_filled_total: Counter of gap cells filled
//   - aquafill_values_clamped_total: Counter of values clamped by monotonicity enforcement
//   - aquafill_entities_skipped_total: Counter of skipped entities by reason
//   - aquafill_errors_total: Counter of errors by component and reason
//
// All metrics carry the run_id label so scrapes from consecutive runs stay
// distinguishable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the imputer.
type Metrics struct {
	ChunkProcessSeconds    prometheus.Histogram
	ChunksDone             prometheus.Gauge
	EntitiesProcessedTotal prometheus.Counter
	SeriesEmittedTotal     prometheus.Counter
	CellsFilledTotal       prometheus.Counter
	ValuesClampedTotal     prometheus.Counter
	EntitiesSkippedTotal   *prometheus.CounterVec
	ErrorsTotal            *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(runID string) *Metrics {
	labels := prometheus.Labels{"run_id": runID}

	return &Metrics{
		ChunkProcessSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "aquafill_chunk_process_seconds",
			Help:        "Time spent imputing and writing one chunk",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),

		ChunksDone: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "aquafill_chunks_done",
			Help:        "Chunks completed in the current run",
			ConstLabels: labels,
		}),

		EntitiesProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "aquafill_entities_processed_total",
			Help:        "Entities pulled from the source",
			ConstLabels: labels,
		}),

		SeriesEmittedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "aquafill_series_emitted_total",
			Help:        "Imputed series written to the sink",
			ConstLabels: labels,
		}),

		CellsFilledTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "aquafill_cells_filled_total",
			Help:        "Gap cells filled by interpolation or boundary fill",
			ConstLabels: labels,
		}),

		ValuesClampedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "aquafill_values_clamped_total",
			Help:        "Values raised by monotonicity enforcement",
			ConstLabels: labels,
		}),

		EntitiesSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "aquafill_entities_skipped_total",
			Help:        "Entities excluded from the output by reason",
			ConstLabels: labels,
		}, []string{"reason"}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "aquafill_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordChunk records one completed chunk. The counter deltas are int64 to
// match the quality aggregates they come from.
func (m *Metrics) RecordChunk(seconds float64, chunksDone int, entities, emitted, filled, clamped, unfillable, malformed int64) {
	m.ChunkProcessSeconds.Observe(seconds)
	m.ChunksDone.Set(float64(chunksDone))
	m.EntitiesProcessedTotal.Add(float64(entities))
	m.SeriesEmittedTotal.Add(float64(emitted))
	m.CellsFilledTotal.Add(float64(filled))
	m.ValuesClampedTotal.Add(float64(clamped))
	if unfillable > 0 {
		m.EntitiesSkippedTotal.WithLabelValues("unfillable").Add(float64(unfillable))
	}
	if malformed > 0 {
		m.EntitiesSkippedTotal.WithLabelValues("malformed").Add(float64(malformed))
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
