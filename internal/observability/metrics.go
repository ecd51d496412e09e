// Package observability holds the engine's Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all settlement metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ChoicesDecoded  prometheus.Counter
	ChoicesSkipped  prometheus.Counter
	Finalizations   *prometheus.CounterVec
	TallyMismatches prometheus.Counter
	Claims          *prometheus.CounterVec
	PayoutUnits     prometheus.Counter
	FeeUnits        prometheus.Counter
	SweepRuns       *prometheus.CounterVec

	OperationDuration *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics registers every metric on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		ChoicesDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_choices_decoded_total",
			Help: "Encoded choices opened successfully during a tally",
		}),
		ChoicesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_choices_skipped_total",
			Help: "Encoded choices skipped because they could not be opened",
		}),
		Finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_finalizations_total",
			Help: "Finalize attempts by result",
		}, []string{"result"}),
		TallyMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_tally_mismatches_total",
			Help: "Tallies that disagreed with ledger totals",
		}),
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_claims_total",
			Help: "Claim executions by result",
		}, []string{"result"}),
		PayoutUnits: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_payout_units_total",
			Help: "Units paid to participants",
		}),
		FeeUnits: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_fee_units_total",
			Help: "Units routed to the treasury as fees",
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_sweep_runs_total",
			Help: "Finalize sweeper ticks by result",
		}, []string{"result"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_operation_duration_seconds",
			Help:    "Duration of settlement operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		registry: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecode counts one tally's decoded and skipped choices.
func (m *Metrics) ObserveDecode(decoded, skipped int) {
	if m == nil {
		return
	}
	m.ChoicesDecoded.Add(float64(decoded))
	m.ChoicesSkipped.Add(float64(skipped))
}

// ObserveFinalize records a finalize attempt. result is one of finalized,
// lost_race, mismatch, rejected or error.
func (m *Metrics) ObserveFinalize(result string) {
	if m == nil {
		return
	}
	m.Finalizations.WithLabelValues(result).Inc()
	if result == "mismatch" {
		m.TallyMismatches.Inc()
	}
}

// ObserveClaim records a claim execution and, when paid, the units moved.
func (m *Metrics) ObserveClaim(result string, userUnits, feeUnits uint64) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(result).Inc()
	m.PayoutUnits.Add(float64(userUnits))
	m.FeeUnits.Add(float64(feeUnits))
}

// ObserveSweep records one sweeper tick.
func (m *Metrics) ObserveSweep(result string) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
}

// Since observes the time elapsed since start for operation.
func (m *Metrics) Since(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
