package risk

import (
	"github.com/rs/zerolog"

	"fib-trading-engine/internal/market"
)

// ManagerConfig controls break-even and trailing behaviour. Trigger and
// step values are ATR multiples; the lock offset is in points.
type ManagerConfig struct {
	UseBreakEven        bool    `json:"use_break_even"`
	BreakEvenTriggerATR float64 `json:"break_even_trigger_atr"` // open profit arming break-even
	BreakEvenLockPoints float64 `json:"break_even_lock_points"` // locked in beyond the entry
	UseTrailing         bool    `json:"use_trailing"`
	TrailingStartATR    float64 `json:"trailing_start_atr"` // open profit arming the trail
	TrailingStepATR     float64 `json:"trailing_step_atr"`  // distance kept behind price
}

// DefaultManagerConfig arms break-even at 1 ATR of profit locking 10 points,
// and trails by 1 ATR once profit exceeds 1.5 ATR.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		UseBreakEven:        true,
		BreakEvenTriggerATR: 1.0,
		BreakEvenLockPoints: 10,
		UseTrailing:         true,
		TrailingStartATR:    1.5,
		TrailingStepATR:     1.0,
	}
}

// StopUpdate asks the gateway to tighten one position's stop. TakeProfit is
// carried unchanged for the modify call.
type StopUpdate struct {
	Ticket      uint64
	NewStopLoss float64
	TakeProfit  float64
	Reason      string
}

// PositionManager tightens protective stops as profit accrues. A stop is
// only ever moved toward price, never away, for either side; an unset stop
// (zero) counts as infinitely loose. The manager holds no state across
// ticks: every decision compares against the stop the gateway reports.
type PositionManager struct {
	cfg    ManagerConfig
	logger zerolog.Logger
}

// NewPositionManager builds a manager with the given rules.
func NewPositionManager(cfg ManagerConfig, logger zerolog.Logger) *PositionManager {
	return &PositionManager{
		cfg:    cfg,
		logger: logger.With().Str("component", "position_manager").Logger(),
	}
}

// Evaluate inspects every open position against the current quote and
// returns at most one stop update per position. A non-positive ATR abstains
// outright: no modifications, no error.
func (m *PositionManager) Evaluate(positions []market.Position, tick market.Tick, atr float64, spec market.SymbolSpec) []StopUpdate {
	if atr <= 0 {
		return nil
	}
	var updates []StopUpdate
	for _, pos := range positions {
		var (
			upd StopUpdate
			ok  bool
		)
		if pos.Side == market.Buy {
			upd, ok = m.evaluateLong(pos, tick, atr, spec)
		} else {
			upd, ok = m.evaluateShort(pos, tick, atr, spec)
		}
		if ok {
			updates = append(updates, upd)
		}
	}
	return updates
}

// evaluateLong applies break-even and trailing to a long against the bid.
// When both rules qualify the tighter (higher) stop wins.
func (m *PositionManager) evaluateLong(pos market.Position, tick market.Tick, atr float64, spec market.SymbolSpec) (StopUpdate, bool) {
	profit := tick.Bid - pos.OpenPrice
	best, reason := 0.0, ""

	if m.cfg.UseBreakEven &&
		profit >= atr*m.cfg.BreakEvenTriggerATR &&
		(pos.StopLoss == 0 || pos.StopLoss < pos.OpenPrice) {
		cand := pos.OpenPrice + m.cfg.BreakEvenLockPoints*spec.Point
		if tightensLong(cand, pos.StopLoss) {
			best, reason = cand, "break_even"
		}
	}
	if m.cfg.UseTrailing && profit >= atr*m.cfg.TrailingStartATR {
		cand := tick.Bid - atr*m.cfg.TrailingStepATR
		// The trail must stay above the entry, never give back the trade.
		if cand > pos.OpenPrice && tightensLong(cand, pos.StopLoss) && cand > best {
			best, reason = cand, "trailing"
		}
	}
	if reason == "" {
		return StopUpdate{}, false
	}
	m.logger.Debug().
		Uint64("ticket", pos.Ticket).
		Float64("old_stop", pos.StopLoss).
		Float64("new_stop", best).
		Str("reason", reason).
		Msg("stop tightened")
	return StopUpdate{Ticket: pos.Ticket, NewStopLoss: best, TakeProfit: pos.TakeProfit, Reason: reason}, true
}

// evaluateShort mirrors evaluateLong against the ask.
func (m *PositionManager) evaluateShort(pos market.Position, tick market.Tick, atr float64, spec market.SymbolSpec) (StopUpdate, bool) {
	profit := pos.OpenPrice - tick.Ask
	best, reason := 0.0, ""

	if m.cfg.UseBreakEven &&
		profit >= atr*m.cfg.BreakEvenTriggerATR &&
		(pos.StopLoss == 0 || pos.StopLoss > pos.OpenPrice) {
		cand := pos.OpenPrice - m.cfg.BreakEvenLockPoints*spec.Point
		if tightensShort(cand, pos.StopLoss) {
			best, reason = cand, "break_even"
		}
	}
	if m.cfg.UseTrailing && profit >= atr*m.cfg.TrailingStartATR {
		cand := tick.Ask + atr*m.cfg.TrailingStepATR
		if cand < pos.OpenPrice && tightensShort(cand, pos.StopLoss) && (reason == "" || cand < best) {
			best, reason = cand, "trailing"
		}
	}
	if reason == "" {
		return StopUpdate{}, false
	}
	m.logger.Debug().
		Uint64("ticket", pos.Ticket).
		Float64("old_stop", pos.StopLoss).
		Float64("new_stop", best).
		Str("reason", reason).
		Msg("stop tightened")
	return StopUpdate{Ticket: pos.Ticket, NewStopLoss: best, TakeProfit: pos.TakeProfit, Reason: reason}, true
}

// tightensLong reports whether cand improves on the current long stop.
func tightensLong(cand, stop float64) bool { return stop == 0 || cand > stop }

// tightensShort reports whether cand improves on the current short stop.
func tightensShort(cand, stop float64) bool { return stop == 0 || cand < stop }
