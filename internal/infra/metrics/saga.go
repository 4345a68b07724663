package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		sagaRunsTotal,
		sagaStepDuration,
		sagaCompensationsTotal,
		priceChangesTotal,
		pricesCreatedTotal,
		portalSessionsTotal,
	)
}

var (
	// outcome: succeeded|failed|compensated|compensation_failed|rejected
	sagaRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_saga_runs_total",
			Help: "Subscribe saga runs by outcome.",
		},
		[]string{"outcome"},
	)

	sagaStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_saga_step_duration_seconds",
			Help:    "Duration of each saga step in seconds, by step and result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"step", "result"},
	)

	// result: ok|error
	sagaCompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_saga_compensations_total",
			Help: "Compensating actions by undone step and result.",
		},
		[]string{"step", "result"},
	)

	priceChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscription_price_changes_total",
			Help: "Subscription price changes by result.",
		},
		[]string{"result"},
	)

	pricesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_prices_created_total",
			Help: "Prices created outside the subscribe saga, by result.",
		},
		[]string{"result"},
	)

	portalSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_portal_sessions_total",
			Help: "Portal sessions issued by result.",
		},
		[]string{"result"},
	)
)

func IncSagaRun(outcome string) {
	sagaRunsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveSagaStep(step string, ok bool, d time.Duration) {
	sagaStepDuration.WithLabelValues(norm(step), result(ok)).Observe(d.Seconds())
}

func IncCompensation(step string, ok bool) {
	sagaCompensationsTotal.WithLabelValues(norm(step), result(ok)).Inc()
}

func IncPriceChange(ok bool) {
	priceChangesTotal.WithLabelValues(result(ok)).Inc()
}

func IncPriceCreated(ok bool) {
	pricesCreatedTotal.WithLabelValues(result(ok)).Inc()
}

func IncPortalSession(ok bool) {
	portalSessionsTotal.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
