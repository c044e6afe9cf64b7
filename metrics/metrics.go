package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes
const (
	OutcomeCompleted    = "completed"
	OutcomeAborted      = "aborted"
	OutcomeInsufficient = "insufficient_data"
	OutcomeSourceError  = "source_error"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_cycles_total", Help: "Polling passes by outcome"},
		[]string{"outcome"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_signals_total", Help: "Evaluated trade signals"},
		[]string{"direction", "regime"},
	)
	OrdersSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_orders_submitted_total", Help: "Grid rung submissions by outcome"},
		[]string{"direction", "outcome"},
	)
	OrdersCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_orders_cancelled_total", Help: "Grid order cancellations by outcome"},
		[]string{"direction", "outcome"},
	)
	TeardownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_teardowns_total", Help: "Grid teardowns by reason"},
		[]string{"direction", "reason"},
	)
	GridActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gridbot_grid_active", Help: "1 while a grid is active for the direction"},
		[]string{"direction"},
	)
	DynamicATR = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "gridbot_dynamic_atr", Help: "Clamped ATR used for SL/TP distances"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		SignalsTotal,
		OrdersSubmittedTotal,
		OrdersCancelledTotal,
		TeardownsTotal,
		GridActive,
		DynamicATR,
	)
}

// SetGridActive flips the active gauge of a direction
func SetGridActive(direction string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	GridActive.WithLabelValues(direction).Set(v)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
