package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry / supervisor metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_workers_total",
			Help: "Total number of live workers by tenant",
		},
		[]string{"tenant"},
	)

	TenantsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_tenants_total",
			Help: "Total number of tenants with a supervision tree",
		},
	)

	ServiceDeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_service_deploys_total",
			Help: "Total number of deploy attempts by result",
		},
		[]string{"result"},
	)

	ServiceCrashesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_service_crashes_total",
			Help: "Total number of worker crashes by tenant",
		},
		[]string{"tenant"},
	)

	// Event store metrics
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_events_emitted_total",
			Help: "Total number of events emitted by event_type",
		},
		[]string{"event_type"},
	)

	EventStoreLastID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_event_store_last_id",
			Help: "Highest event id assigned by the event store",
		},
	)

	EventSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_event_subscribers_total",
			Help: "Current number of live event subscriptions",
		},
	)

	// Hot-swap metrics
	HotSwapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_hot_swaps_total",
			Help: "Total number of hot swaps by outcome",
		},
		[]string{"outcome"},
	)

	// Capability / vault metrics
	CapabilityGrantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_capability_grants_total",
			Help: "Total number of capability grants issued",
		},
	)

	CapabilityDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_capability_denials_total",
			Help: "Total number of capability verification denials",
		},
	)

	SecretsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_secrets_total",
			Help: "Total number of secrets stored by tenant",
		},
		[]string{"tenant"},
	)

	// Backpressure metrics
	InFlightTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_inflight_total",
			Help: "Current admitted in-flight operations by tenant",
		},
		[]string{"tenant"},
	)

	OverloadedRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_overloaded_rejections_total",
			Help: "Total number of admissions rejected by the load shedder",
		},
		[]string{"tenant"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_circuit_breaker_state",
			Help: "Circuit breaker state per service (0=closed, 1=open, 2=half_open)",
		},
		[]string{"tenant", "service"},
	)

	// Gateway metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_api_requests_total",
			Help: "Total number of gateway requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_api_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_deploy_duration_seconds",
			Help:    "Time taken to deploy a service in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HotSwapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_hot_swap_duration_seconds",
			Help:    "Time taken for the synchronous half of a hot swap in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		TenantsTotal,
		ServiceDeploysTotal,
		ServiceCrashesTotal,
		EventsEmittedTotal,
		EventStoreLastID,
		EventSubscribersTotal,
		HotSwapsTotal,
		CapabilityGrantsTotal,
		CapabilityDenialsTotal,
		SecretsTotal,
		InFlightTotal,
		OverloadedRejectionsTotal,
		CircuitBreakerState,
		APIRequestsTotal,
		APIRequestDuration,
		DeployDuration,
		HotSwapDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
