package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts venue activity for run-level reporting.
type Metrics struct {
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersFilled    *prometheus.CounterVec
	OrdersCanceled  prometheus.Counter
	FillVolume      *prometheus.CounterVec
	EventsEmitted   *prometheus.CounterVec
	CommandLagNs    prometheus.Histogram
}

// NewMetrics registers venue metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "orders_submitted_total",
			Help:      "Orders submitted to the venue.",
		}, []string{"instrument", "type"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "orders_rejected_total",
			Help:      "Orders rejected, by reason.",
		}, []string{"instrument", "reason"}),
		OrdersFilled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "orders_filled_total",
			Help:      "Fill executions, by liquidity side.",
		}, []string{"instrument", "liquidity"}),
		OrdersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "orders_canceled_total",
			Help:      "Orders canceled at the venue.",
		}),
		FillVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "fill_volume_total",
			Help:      "Filled quantity, by instrument.",
		}, []string{"instrument"}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "events_emitted_total",
			Help:      "Events emitted to the trading layer, by type.",
		}, []string{"type"}),
		CommandLagNs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "backsim",
			Subsystem: "exchange",
			Name:      "command_lag_ns",
			Help:      "Simulated latency between command submission and execution.",
			Buckets:   prometheus.ExponentialBuckets(1_000, 10, 8),
		}),
	}
}
