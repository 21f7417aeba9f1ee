package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

const namespace = "pmcopilot"

// PromMetrics records pipeline observations as Prometheus collectors.
type PromMetrics struct {
	cacheLookups     *prometheus.CounterVec
	coalesced        prometheus.Counter
	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	ingestions       *prometheus.CounterVec
	tickets          *prometheus.CounterVec
	fleetRuns        *prometheus.CounterVec
	fleetDuration    prometheus.Histogram
	fleetItems       *prometheus.GaugeVec
}

var _ ports.Metrics = (*PromMetrics)(nil)

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Prediction cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_fetches_total",
			Help:      "Callers that joined an in-flight fetch instead of starting one.",
		}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Calls to the ML prediction service by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Latency of calls to the ML prediction service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Prediction ingestions by outcome.",
		}, []string{"outcome"}),
		tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Maintenance tickets created by priority.",
		}, []string{"priority"}),
		fleetRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fleet_runs_total",
			Help:      "Fleet refresh runs by outcome.",
		}, []string{"outcome"}),
		fleetDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fleet_run_duration_seconds",
			Help:      "Duration of fleet refresh runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		fleetItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_last_run_items",
			Help:      "Items of the last fleet run by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.cacheLookups,
		m.coalesced,
		m.upstreamCalls,
		m.upstreamDuration,
		m.ingestions,
		m.tickets,
		m.fleetRuns,
		m.fleetDuration,
		m.fleetItems,
	)
	return m
}

func (m *PromMetrics) CacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *PromMetrics) CoalescedFetch() {
	m.coalesced.Inc()
}

func (m *PromMetrics) UpstreamCall(endpoint, outcome string, duration time.Duration) {
	m.upstreamCalls.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *PromMetrics) Ingestion(outcome string) {
	m.ingestions.WithLabelValues(outcome).Inc()
}

func (m *PromMetrics) TicketCreated(priority domain.TicketPriority) {
	m.tickets.WithLabelValues(string(priority)).Inc()
}

func (m *PromMetrics) FleetRun(outcome string, duration time.Duration, succeeded, failed int) {
	m.fleetRuns.WithLabelValues(outcome).Inc()
	m.fleetDuration.Observe(duration.Seconds())
	m.fleetItems.WithLabelValues("success").Set(float64(succeeded))
	m.fleetItems.WithLabelValues("failed").Set(float64(failed))
}
