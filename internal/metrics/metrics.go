package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch results recorded by the engine.
const (
	ResultDispatched = "dispatched"
	ResultFailed     = "failed"
	ResultSkipped    = "skipped"
)

// Metrics holds the Prometheus collectors for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	TicksTotal          *prometheus.CounterVec
	TickDurationSeconds prometheus.Histogram
	CampaignOutcomes    *prometheus.CounterVec
	DispatchesTotal     *prometheus.CounterVec
	DispatchDuration    prometheus.Histogram
	ReplenishedTotal    prometheus.Counter
	EventsConsumedTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_engine_ticks_total",
				Help: "Scheduler ticks by result",
			},
			[]string{"result"},
		),
		TickDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaign_engine_tick_duration_seconds",
				Help:    "Wall time of a scheduler tick",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		CampaignOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_engine_campaign_outcomes_total",
				Help: "Per-campaign tick outcomes",
			},
			[]string{"outcome"},
		),
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_engine_dispatches_total",
				Help: "Dispatch attempts by result",
			},
			[]string{"result"},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaign_engine_dispatch_duration_seconds",
				Help:    "Time spent provisioning a call",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReplenishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campaign_engine_replenished_total",
				Help: "Queue items created by replenishment",
			},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_engine_events_consumed_total",
				Help: "Call events consumed by the status worker",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_engine_http_requests_total",
				Help: "Control API requests",
			},
			[]string{"method", "route", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDurationSeconds,
		m.CampaignOutcomes,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.ReplenishedTotal,
		m.EventsConsumedTotal,
		m.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records a finished tick.
func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDurationSeconds.Observe(d.Seconds())
}

// IncCampaignOutcome counts what a tick did with one campaign.
func (m *Metrics) IncCampaignOutcome(outcome string) {
	if m == nil {
		return
	}
	m.CampaignOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveDispatch records one dispatch attempt.
func (m *Metrics) ObserveDispatch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(result).Inc()
	m.DispatchDuration.Observe(d.Seconds())
}

// AddReplenished counts newly queued items.
func (m *Metrics) AddReplenished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReplenishedTotal.Add(float64(n))
}

// IncEventsConsumed counts status worker messages.
func (m *Metrics) IncEventsConsumed(result string) {
	if m == nil {
		return
	}
	m.EventsConsumedTotal.WithLabelValues(result).Inc()
}

// IncHTTPRequest counts a control API request.
func (m *Metrics) IncHTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
}
