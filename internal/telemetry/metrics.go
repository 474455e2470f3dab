// Package telemetry provides the error-reporting sink and operational
// surface (Prometheus metrics, health endpoint) for the ingestion pipeline.
//
// Every pipeline stage reports non-fatal failures through the Reporter
// interface instead of propagating them; the reporter logs the failure with
// its stage context and bumps the matching counter. Search-index staleness is
// the operator-visible symptom of a stuck pipeline, so the counters exist to
// catch it before users do.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus instruments. All registration
// happens once in NewMetrics; stages receive the struct and increment.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived     prometheus.Counter
	WindowsFlushed     prometheus.Counter
	CasesLoaded        prometheus.Counter
	RecordsIndexed     prometheus.Counter
	SuggestionsWritten prometheus.Counter
	EventsArchived     prometheus.Counter

	// StageErrors counts reported non-fatal failures, labeled by the stage
	// that swallowed them.
	StageErrors *prometheus.CounterVec

	WindowSize prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_indexer_events_received_total",
			Help: "Raw change events received from the streaming channel",
		}),
		WindowsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_indexer_windows_flushed_total",
			Help: "Non-empty event windows handed to the loader",
		}),
		CasesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_indexer_cases_loaded_total",
			Help: "Cases successfully fetched from the 311 read API",
		}),
		RecordsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_indexer_records_indexed_total",
			Help: "Case records upserted into the search index",
		}),
		SuggestionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_indexer_suggestions_written_total",
			Help: "Classifier category suggestions written back to the index",
		}),
		EventsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_indexer_events_archived_total",
			Help: "Raw change events written to the archive topic",
		}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "case_indexer_stage_errors_total",
			Help: "Non-fatal failures reported by pipeline stages",
		}, []string{"stage"}),
		WindowSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_indexer_window_size",
			Help:    "Distribution of deduplicated refs per flushed window",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 100},
		}),
	}

	registry.MustRegister(
		m.EventsReceived,
		m.WindowsFlushed,
		m.CasesLoaded,
		m.RecordsIndexed,
		m.SuggestionsWritten,
		m.EventsArchived,
		m.StageErrors,
		m.WindowSize,
	)

	return m
}

// Registry exposes the underlying registry for the ops listener.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
