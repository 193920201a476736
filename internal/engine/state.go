// Package engine drives the strategy: a Controller owns the per-symbol
// state and reacts to ticks, and Run pulls ticks from a TickSource and
// feeds them to the controller until the source is exhausted.
package engine

import (
	"time"

	"fib-trading-engine/internal/strategy"
)

// State is the full mutable state of one (symbol, timeframe) engine
// instance. Everything derived from bars is recomputed from scratch on
// each new bar; the only values carried across events are the new-bar
// gate and the telemetry counters.
type State struct {
	// LastBarTime gates entry evaluation to once per bar. It holds the
	// open time of the most recent bar already evaluated.
	LastBarTime time.Time

	// Snapshot of the latest bar analysis, kept for display and
	// diagnostics. Refreshed even on bars where the spread or
	// single-position gate blocks entry evaluation.
	Trend  strategy.TrendState
	Swings strategy.SwingSet
	Levels strategy.FibLevelSet

	// LastSignalID identifies the most recent accepted trade intent.
	LastSignalID string
	LastSignalAt time.Time

	TicksSeen uint64
	BarsSeen  uint64
}
