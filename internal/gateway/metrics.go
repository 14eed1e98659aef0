package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_gateway_requests_total",
			Help: "Total number of requests handled by the gateway pipeline.",
		},
		[]string{"decision", "policy"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_gateway_upstream_duration_seconds",
			Help:    "Time spent forwarding requests to backend services.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "code"},
	)
	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_gateway_reloads_total",
			Help: "Configuration reload attempts.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, upstreamDuration, reloadsTotal)
}

// ObserveUpstream records one forwarded request. It matches proxy.Observer.
func ObserveUpstream(service string, status int, elapsed time.Duration) {
	upstreamDuration.WithLabelValues(service, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordReload counts a reload attempt.
func RecordReload(err error) {
	if err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		return
	}
	reloadsTotal.WithLabelValues("ok").Inc()
}
