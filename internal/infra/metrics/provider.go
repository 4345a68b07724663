package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(providerCallsTotal, providerCallLatency)
}

var (
	// category: ok|validation|auth|transient|not_found|other
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provider_calls_total",
			Help: "Calls to the payment provider by provider, operation and outcome category.",
		},
		[]string{"provider", "op", "category"},
	)

	providerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_provider_call_latency_seconds",
			Help:    "Payment provider call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3, 5, 10},
		},
		[]string{"provider", "op", "success"},
	)
)

func ObserveProviderCall(provider, op, category string, d time.Duration) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(op), norm(category)).Inc()
	providerCallLatency.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(category == "ok")).
		Observe(d.Seconds())
}
