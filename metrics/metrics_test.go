package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGridActive(t *testing.T) {
	SetGridActive("buy", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(GridActive.WithLabelValues("buy")))

	SetGridActive("buy", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(GridActive.WithLabelValues("buy")))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues(OutcomeAborted))
	CyclesTotal.WithLabelValues(OutcomeAborted).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CyclesTotal.WithLabelValues(OutcomeAborted)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	DynamicATR.Set(0.75)
	SignalsTotal.WithLabelValues("none", "trending").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "gridbot_dynamic_atr 0.75"))
	assert.Contains(t, body, `gridbot_signals_total{direction="none",regime="trending"}`)
}
