package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "pages"

// Metrics contains the metrics exposed by the page bridge.
type Metrics struct {
	// Finished requests, labelled by outcome ("ok" or a failure kind).
	Requests metrics.Counter
	// Requests currently inside the pipeline.
	InFlight metrics.Gauge
	// Remote call latency in seconds, labelled by procedure and result.
	CallDuration metrics.Histogram
	// Session handles registered for new tokens.
	SessionsCreated metrics.Counter
	// Session handles dropped from the cache and unregistered.
	SessionsEvicted metrics.Counter
}

// PrometheusMetrics returns Metrics registered with the default Prometheus
// registerer. It must be called at most once per namespace.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_total",
			Help:      "Number of finished page requests by outcome.",
		}, []string{"outcome"}),
		InFlight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_in_flight",
			Help:      "Number of page requests being processed.",
		}, []string{}),
		CallDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "call_duration_seconds",
			Help:      "Remote call latency.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{"procedure", "result"}),
		SessionsCreated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sessions_created_total",
			Help:      "Number of session handles registered for new tokens.",
		}, []string{}),
		SessionsEvicted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sessions_evicted_total",
			Help:      "Number of session handles evicted from the cache.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Requests:        discard.NewCounter(),
		InFlight:        discard.NewGauge(),
		CallDuration:    discard.NewHistogram(),
		SessionsCreated: discard.NewCounter(),
		SessionsEvicted: discard.NewCounter(),
	}
}
