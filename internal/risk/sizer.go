// Package risk converts risk budget into broker-valid volume and manages
// protective stops on open positions.
package risk

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fib-trading-engine/internal/market"
)

// SizerConfig controls how order volume is computed.
type SizerConfig struct {
	RiskPercent float64 `json:"risk_percent"` // share of equity risked per trade
	FixedLot    float64 `json:"fixed_lot"`    // overrides risk-based sizing when > 0
}

// DefaultSizerConfig risks 1% of equity per trade.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{RiskPercent: 1.0}
}

// PositionSizer converts the account risk budget and a stop distance into a
// lot size that satisfies the broker's volume constraints.
type PositionSizer struct {
	cfg    SizerConfig
	logger zerolog.Logger
}

// NewPositionSizer builds a sizer. A zero RiskPercent falls back to the
// default 1%.
func NewPositionSizer(cfg SizerConfig, logger zerolog.Logger) *PositionSizer {
	if cfg.RiskPercent <= 0 && cfg.FixedLot <= 0 {
		cfg.RiskPercent = DefaultSizerConfig().RiskPercent
	}
	return &PositionSizer{
		cfg:    cfg,
		logger: logger.With().Str("component", "position_sizer").Logger(),
	}
}

// Compute returns the order volume for the given stop distance. A
// configured fixed lot bypasses the risk formula; degenerate inputs (stop
// distance, tick size or tick value not positive) fall back to the
// broker minimum instead of erroring. The result is floored to the volume
// step and clamped to [VolumeMin, VolumeMax].
func (s *PositionSizer) Compute(acct market.AccountSnapshot, stopDistance float64, spec market.SymbolSpec) float64 {
	if s.cfg.FixedLot > 0 {
		return NormalizeVolume(s.cfg.FixedLot, spec)
	}
	if stopDistance <= 0 || spec.TickSize <= 0 || spec.TickValue <= 0 {
		s.logger.Warn().
			Float64("stop_distance", stopDistance).
			Float64("tick_size", spec.TickSize).
			Float64("tick_value", spec.TickValue).
			Msg("sizing guard tripped, using minimum volume")
		return NormalizeVolume(spec.VolumeMin, spec)
	}

	riskAmount, _ := acct.Equity.
		Mul(decimal.NewFromFloat(s.cfg.RiskPercent)).
		Div(decimal.NewFromInt(100)).
		Float64()
	riskPerLot := stopDistance / spec.TickSize * spec.TickValue
	return NormalizeVolume(riskAmount/riskPerLot, spec)
}

// NormalizeVolume floors the volume to the step grid and clamps it to the
// broker range. The step division runs in decimal so that float artifacts
// like 0.07/0.01 = 6.999... cannot drop a step.
func NormalizeVolume(lots float64, spec market.SymbolSpec) float64 {
	if spec.VolumeStep > 0 {
		step := decimal.NewFromFloat(spec.VolumeStep)
		lots, _ = decimal.NewFromFloat(lots).Div(step).Floor().Mul(step).Float64()
	}
	if lots < spec.VolumeMin {
		lots = spec.VolumeMin
	}
	if spec.VolumeMax > 0 && lots > spec.VolumeMax {
		lots = spec.VolumeMax
	}
	return lots
}
