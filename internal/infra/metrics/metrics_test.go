package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(sagaRunsTotal.WithLabelValues("succeeded"))
	IncSagaRun(" Succeeded ")
	assert.Equal(t, before+1, testutil.ToFloat64(sagaRunsTotal.WithLabelValues("succeeded")))

	ObserveProviderCall("stripe", "CreatePrice", "ok", 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(providerCallsTotal.WithLabelValues("stripe", "createprice", "ok")))

	IncCompensation("customer", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(sagaCompensationsTotal.WithLabelValues("customer", "error")))

	IncPriceCreated(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(pricesCreatedTotal.WithLabelValues("ok")))
}

func TestMustRegister_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})
}
