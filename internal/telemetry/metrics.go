// Package telemetry exports filter chain activity as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkingovr/iochain/internal/filter"
)

// Metrics holds the Prometheus metrics for chains and sessions. It
// implements filter.Observer.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	filterErrors     *prometheus.CounterVec

	chainsActive prometheus.Gauge
	chainsTotal  prometheus.Counter

	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ filter.Observer = (*Metrics)(nil)

// NewMetrics creates a metrics instance on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iochain_events_total",
				Help: "Total number of events dispatched by direction, kind and result",
			},
			[]string{"direction", "kind", "result"},
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iochain_dispatch_duration_seconds",
				Help:    "Time an event spent travelling through its chain",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"direction"},
		),

		filterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iochain_filter_errors_total",
				Help: "Total number of dispatch failures by failing filter and direction",
			},
			[]string{"filter", "direction"},
		),

		chainsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "iochain_chains_active",
				Help: "Number of chains that have seen an event and are not closing",
			},
		),

		chainsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "iochain_chains_closed_total",
				Help: "Total number of chains torn down",
			},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iochain_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.eventsTotal,
		m.dispatchDuration,
		m.filterErrors,
		m.chainsActive,
		m.chainsTotal,
		m.configReloads,
	)

	return m
}

// StateChanged tracks the number of active chains.
func (m *Metrics) StateChanged(_ *filter.Chain, from, to filter.State) {
	switch {
	case to == filter.StateActive:
		m.chainsActive.Inc()
	case from == filter.StateActive && to == filter.StateClosing:
		m.chainsActive.Dec()
	case to == filter.StateClosed:
		m.chainsTotal.Inc()
	}
}

// Dispatched records one finished event traversal.
func (m *Metrics) Dispatched(_ *filter.Chain, ev *filter.Event, result filter.Result, elapsed time.Duration) {
	m.eventsTotal.WithLabelValues(string(ev.Direction), string(ev.Kind), string(result)).Inc()
	m.dispatchDuration.WithLabelValues(string(ev.Direction)).Observe(elapsed.Seconds())
}

// FilterFailed records a dispatch failure.
func (m *Metrics) FilterFailed(_ *filter.Chain, err *filter.FilterError) {
	m.filterErrors.WithLabelValues(err.Filter, string(err.Direction)).Inc()
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
