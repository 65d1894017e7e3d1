// Package metrics defines the Prometheus metric set exposed by the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every Prometheus collector the engine registers.
type Registry struct {
	// Indicator calculation metrics
	IndicatorDuration *prometheus.HistogramVec
	IndicatorErrors   *prometheus.CounterVec

	// Event bus metrics
	BusDispatched *prometheus.CounterVec
	BusErrors     *prometheus.CounterVec
	BusQueueDepth prometheus.Gauge

	// Backtest metrics
	BacktestsActive    prometheus.Gauge
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	CandlesProcessed   *prometheus.CounterVec
	BacktestDuration   prometheus.Histogram

	// Order manager metrics
	OrdersFilled    *prometheus.CounterVec
	OrdersDropped   *prometheus.CounterVec
	PositionsOpen   prometheus.Gauge
	RealizedPnLSum  prometheus.Counter

	// Strategy FSM metrics
	StrategyTransitions *prometheus.CounterVec
	StrategySignals     *prometheus.CounterVec
}

// NewRegistry builds and registers the full metric set with the default
// Prometheus registerer.
func NewRegistry() *Registry {
	r := &Registry{
		IndicatorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indicatorengine_indicator_duration_seconds",
				Help:    "Time to calculate one indicator window",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"algorithm", "result"},
		),
		IndicatorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_indicator_errors_total",
				Help: "Indicator calculation errors by algorithm",
			},
			[]string{"algorithm", "reason"},
		),

		BusDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_bus_dispatched_total",
				Help: "Event bus handler dispatches by topic",
			},
			[]string{"topic"},
		),
		BusErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_bus_errors_total",
				Help: "Event bus handler errors by topic",
			},
			[]string{"topic"},
		),
		BusQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indicatorengine_bus_inflight_handlers",
				Help: "Handler deliveries enqueued and not yet completed",
			},
		),

		BacktestsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indicatorengine_backtests_active",
				Help: "Backtest runs currently in progress",
			},
		),
		BacktestsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "indicatorengine_backtests_completed_total",
				Help: "Backtest runs that reached Completed status",
			},
		),
		BacktestsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "indicatorengine_backtests_failed_total",
				Help: "Backtest runs that reached Failed status",
			},
		),
		CandlesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_candles_processed_total",
				Help: "Candles replayed by the backtest engine",
			},
			[]string{"symbol"},
		),
		BacktestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "indicatorengine_backtest_duration_seconds",
				Help:    "Wall-clock duration of a backtest run",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),

		OrdersFilled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_orders_filled_total",
				Help: "Orders filled by the backtest order manager",
			},
			[]string{"symbol", "side"},
		),
		OrdersDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_orders_dropped_total",
				Help: "Orders dropped for an invalid direction (SELL/COVER with no matching position)",
			},
			[]string{"symbol", "side"},
		),
		PositionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indicatorengine_positions_open",
				Help: "Positions currently non-flat across all order managers",
			},
		),
		RealizedPnLSum: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "indicatorengine_realized_pnl_total",
				Help: "Cumulative realized PnL magnitude observed across closed legs",
			},
		),

		StrategyTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_strategy_transitions_total",
				Help: "Strategy FSM state transitions",
			},
			[]string{"strategy", "transition"},
		),
		StrategySignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indicatorengine_strategy_signals_total",
				Help: "signal_generated events published by strategy",
			},
			[]string{"strategy", "signal_type"},
		),
	}

	prometheus.MustRegister(
		r.IndicatorDuration,
		r.IndicatorErrors,
		r.BusDispatched,
		r.BusErrors,
		r.BusQueueDepth,
		r.BacktestsActive,
		r.BacktestsCompleted,
		r.BacktestsFailed,
		r.CandlesProcessed,
		r.BacktestDuration,
		r.OrdersFilled,
		r.OrdersDropped,
		r.PositionsOpen,
		r.RealizedPnLSum,
		r.StrategyTransitions,
		r.StrategySignals,
	)

	return r
}

// IndicatorTimer times a single indicator calculation.
type IndicatorTimer struct {
	registry  *Registry
	algorithm string
	start     time.Time
}

// StartIndicatorTimer begins timing a calculation for the given algorithm.
func (r *Registry) StartIndicatorTimer(algorithm string) *IndicatorTimer {
	return &IndicatorTimer{registry: r, algorithm: algorithm, start: time.Now()}
}

// Stop records the elapsed duration and the outcome label ("ok" or "error").
func (t *IndicatorTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.registry.IndicatorDuration.WithLabelValues(t.algorithm, result).Observe(duration.Seconds())
	if result != "ok" {
		t.registry.IndicatorErrors.WithLabelValues(t.algorithm, result).Inc()
	}
}

// RecordBusDispatch records a single handler dispatch for a topic, and
// whether the handler returned an error.
func (r *Registry) RecordBusDispatch(topic string, err error) {
	r.BusDispatched.WithLabelValues(topic).Inc()
	if err != nil {
		r.BusErrors.WithLabelValues(topic).Inc()
		log.Warn().Str("topic", topic).Err(err).Msg("event bus handler returned an error")
	}
}

// RecordOrderFilled records a filled order.
func (r *Registry) RecordOrderFilled(symbol, side string) {
	r.OrdersFilled.WithLabelValues(symbol, side).Inc()
}

// RecordOrderDropped records an order dropped for an invalid direction.
func (r *Registry) RecordOrderDropped(symbol, side string) {
	r.OrdersDropped.WithLabelValues(symbol, side).Inc()
}

// RecordStrategyTransition records an FSM state transition for a strategy.
func (r *Registry) RecordStrategyTransition(strategy, transition string) {
	r.StrategyTransitions.WithLabelValues(strategy, transition).Inc()
}

// RecordStrategySignal records a published signal_generated event.
func (r *Registry) RecordStrategySignal(strategy, signalType string) {
	r.StrategySignals.WithLabelValues(strategy, signalType).Inc()
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
