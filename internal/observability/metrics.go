package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lawn_advisor"

// Metrics holds the Prometheus counters, histograms, and gauges for the advisor.
type Metrics struct {
	Calculations         *prometheus.CounterVec   // labels: outcome
	CalculationDuration  prometheus.Histogram
	StageDuration        *prometheus.HistogramVec // labels: stage={resolve,fetch,compute}
	CalculationsInFlight prometheus.Gauge
	SessionsActive       prometheus.Gauge

	// Postcode index metrics.
	PostcodeLoads     *prometheus.CounterVec // labels: outcome
	PostcodeIndexSize prometheus.Gauge

	// Rainfall provider metrics.
	RainfallRequests    *prometheus.CounterVec // labels: outcome={success,service_error,connectivity}
	RainfallCache       *prometheus.CounterVec // labels: result={hit,miss}
	RainfallAPIDuration prometheus.Histogram

	EventsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := NewUnregisteredMetrics()
	prometheus.MustRegister(
		m.Calculations,
		m.CalculationDuration,
		m.StageDuration,
		m.CalculationsInFlight,
		m.SessionsActive,
		m.PostcodeLoads,
		m.PostcodeIndexSize,
		m.RainfallRequests,
		m.RainfallCache,
		m.RainfallAPIDuration,
		m.EventsPublished,
	)
	return m
}

// NewMetricsForTesting returns a fresh unregistered set for tests.
func NewMetricsForTesting() *Metrics {
	return NewUnregisteredMetrics()
}

// NewUnregisteredMetrics creates Metrics without registering them, for
// tests and one-shot tools that never serve /metrics.
func NewUnregisteredMetrics() *Metrics {
	return &Metrics{
		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Watering calculations by outcome.",
		}, []string{"outcome"}),
		CalculationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_seconds",
			Help:      "End-to-end duration of a watering calculation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each calculation stage.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		CalculationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calculations_in_flight",
			Help:      "Calculations currently running.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions held in memory.",
		}),
		PostcodeLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postcode_index_loads_total",
			Help:      "Postcode index load attempts by outcome.",
		}, []string{"outcome"}),
		PostcodeIndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "postcode_index_size",
			Help:      "Number of postcodes in the loaded index.",
		}),
		RainfallRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rainfall_requests_total",
			Help:      "Weather provider requests by outcome.",
		}, []string{"outcome"}),
		RainfallCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rainfall_cache_total",
			Help:      "Rainfall cache lookups by result.",
		}, []string{"result"}),
		RainfallAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rainfall_api_duration_seconds",
			Help:      "Weather provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Recommendation events published by outcome.",
		}, []string{"outcome"}),
	}
}
