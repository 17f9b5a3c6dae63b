package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for RequestsTotal.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Recorder is the counter/timer sink used by the capture pipeline.
type Recorder struct {
	RequestsTotal        *prometheus.CounterVec
	EventsTotal          *prometheus.CounterVec
	RejectionsTotal      *prometheus.CounterVec
	PluginIngestionTotal prometheus.Counter
	RequestDuration      prometheus.Histogram
	DeliveryDuration     *prometheus.HistogramVec
}

// New registers the capture metrics on reg under the given name prefix.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer, prefix string) *Recorder {
	if prefix == "" {
		prefix = "capture"
	}
	factory := promauto.With(reg)

	return &Recorder{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of capture requests by outcome",
			},
			[]string{"outcome"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_events_total",
				Help: "Total number of events routed by delivery path",
			},
			[]string{"route"},
		),
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_rejections_total",
				Help: "Total number of rejected requests by failure kind",
			},
			[]string{"kind"},
		),
		PluginIngestionTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_plugin_server_ingestion_total",
				Help: "Total number of events also emitted to the plugin ingestion topic",
			},
		),
		RequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "_request_duration_seconds",
				Help:    "Duration of capture requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_delivery_duration_seconds",
				Help:    "Duration of downstream delivery calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Nop returns a Recorder registered on a private registry, for callers that
// do not export metrics.
func Nop() *Recorder {
	return New(prometheus.NewRegistry(), "")
}

// ObserveRequest records the outcome and latency of one capture request.
func (r *Recorder) ObserveRequest(outcome string, started time.Time) {
	r.RequestsTotal.WithLabelValues(outcome).Inc()
	r.RequestDuration.Observe(time.Since(started).Seconds())
}

// Reject counts a request rejected with the given failure kind.
func (r *Recorder) Reject(kind string) {
	r.RejectionsTotal.WithLabelValues(kind).Inc()
}

// Routed counts one event delivered on route and its delivery latency.
func (r *Recorder) Routed(route string, started time.Time) {
	r.EventsTotal.WithLabelValues(route).Inc()
	r.DeliveryDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
}
