package observability

import "github.com/prometheus/client_golang/prometheus"

// Package-level metric vectors, registered once in init. These are real
// scrapeable counters, not log lines: a long replay is observed from the
// outside via /metrics, not by tailing the event stream.
var (
	ticksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "ticks_processed_total",
		Help:      "Ticks consumed from the merged stream, by symbol.",
	}, []string{"symbol"})

	candlesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "candles_completed_total",
		Help:      "Completed candles, by symbol and timeframe.",
	}, []string{"symbol", "timeframe"})

	signalsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "signals_dropped_total",
		Help:      "Trade signals that never became an order, by reason.",
	}, []string{"reason"})

	tradesClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "trades_closed_total",
		Help:      "Closed trades, by symbol and close reason.",
	}, []string{"symbol", "reason"})

	equityGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "backtest",
		Name:      "equity",
		Help:      "Current account equity, sampled on the equity-snapshot cadence.",
	}, []string{"run_id"})

	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "cache_requests_total",
		Help:      "Data cache lookups, by tier (redis/disk) and outcome (hit/miss).",
	}, []string{"tier", "outcome"})

	circuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "circuit_breaker_trips_total",
		Help:      "Circuit breaker state transitions into open, by breaker name.",
	}, []string{"breaker"})

	logEntriesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "log_entries_dropped_total",
		Help:      "Structured log entries discarded because the async logger buffer was full.",
	})

	replayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backtest",
		Name:      "replay_duration_seconds",
		Help:      "Wall-clock duration of a full backtest run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"run_id"})
)

func init() {
	prometheus.MustRegister(
		ticksProcessed,
		candlesCompleted,
		signalsDropped,
		tradesClosed,
		equityGauge,
		cacheHits,
		circuitBreakerTrips,
		logEntriesDropped,
		replayDuration,
	)
}

// IncTicksProcessed records one consumed tick for symbol.
func IncTicksProcessed(symbol string) {
	ticksProcessed.WithLabelValues(symbol).Inc()
}

// IncCandlesCompleted records one completed candle close.
func IncCandlesCompleted(symbol, tf string) {
	candlesCompleted.WithLabelValues(symbol, tf).Inc()
}

// IncSignalDropped records a signal that did not become an order.
func IncSignalDropped(reason string) {
	signalsDropped.WithLabelValues(reason).Inc()
}

// IncTradeClosed records one closed trade.
func IncTradeClosed(symbol, reason string) {
	tradesClosed.WithLabelValues(symbol, reason).Inc()
}

// SetEquity publishes the current equity for runID.
func SetEquity(runID string, equity float64) {
	equityGauge.WithLabelValues(runID).Set(equity)
}

// IncCacheRequest records a cache lookup outcome for the given tier.
func IncCacheRequest(tier, outcome string) {
	cacheHits.WithLabelValues(tier, outcome).Inc()
}

// IncCircuitBreakerTrip records a breaker tripping open.
func IncCircuitBreakerTrip(name string) {
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// IncLogEntriesDropped records n entries lost to a full async log buffer.
func IncLogEntriesDropped(n int64) {
	logEntriesDropped.Add(float64(n))
}

// ObserveReplayDuration records the wall-clock length of a completed run.
func ObserveReplayDuration(runID string, seconds float64) {
	replayDuration.WithLabelValues(runID).Observe(seconds)
}
