// Package prom exports worker channel metrics to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sfuctl/workerchannel/channel"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports channel-level metrics to Prometheus. It implements
// channel.Observer and can be passed to channel.WithObserver,
// worker.WithObserver, or any bespoke caller.
type Observer struct {
	requestsTotal    *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	notifyTotal      prometheus.Counter
	droppedTotal     *prometheus.CounterVec
	workerExitsTotal *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec
}

// New registers channel metrics on reg.
func New(reg *prometheus.Registry) *Observer {
	o := &Observer{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerchannel_requests_total",
			Help: "Worker channel requests by outcome.",
		}, []string{"result"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workerchannel_request_latency_seconds",
			Help:    "Worker channel request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		notifyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workerchannel_notifications_total",
			Help: "Outbound notifications sent on either lane.",
		}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerchannel_dropped_total",
			Help: "Inbound records dropped without reaching a subscriber.",
		}, []string{"reason"}),
		workerExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerchannel_worker_exits_total",
			Help: "Worker process exits by reason.",
		}, []string{"reason"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workerchannel_in_flight_requests",
			Help: "Pending requests awaiting a response, by lane.",
		}, []string{"lane"}),
	}
	reg.MustRegister(
		o.requestsTotal,
		o.requestLatency,
		o.notifyTotal,
		o.droppedTotal,
		o.workerExitsTotal,
		o.inFlight,
	)
	return o
}

func (o *Observer) Request(result channel.RequestResult, d time.Duration) {
	o.requestsTotal.WithLabelValues(string(result)).Inc()
	o.requestLatency.Observe(d.Seconds())
}

func (o *Observer) Notify() {
	o.notifyTotal.Inc()
}

func (o *Observer) Dropped(reason channel.DropReason) {
	o.droppedTotal.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) WorkerExit(reason channel.ExitReason) {
	o.workerExitsTotal.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) InFlight(lane string, depth int) {
	o.inFlight.WithLabelValues(lane).Set(float64(depth))
}

var _ channel.Observer = (*Observer)(nil)
