package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mproxy"

// Recorder exposes dispatch counters and latencies on its own registry.
type Recorder struct {
	registry   *prometheus.Registry
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	requests   *prometheus.CounterVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	r := &Recorder{
		registry: registry,
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Messages dispatched to channel workers, by outcome.",
		}, []string{"channel", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in one worker call.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the gateway.",
		}, []string{"route", "status"}),
	}
	registry.MustRegister(r.dispatches, r.duration, r.requests)

	return r
}

// ObserveDispatch records one dispatch outcome.
func (r *Recorder) ObserveDispatch(channel string, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}

	r.dispatches.WithLabelValues(channel, outcome).Inc()
	r.duration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveRequest(route string, status int) {
	if r == nil {
		return
	}

	r.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
