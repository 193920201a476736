package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fib-trading-engine/internal/market"
)

func goldSpec() market.SymbolSpec {
	return market.SymbolSpec{
		Name:       "XAUUSD",
		Digits:     2,
		Point:      0.01,
		TickSize:   0.01,
		TickValue:  1,
		VolumeMin:  0.01,
		VolumeMax:  100,
		VolumeStep: 0.01,
	}
}

func account(equity float64) market.AccountSnapshot {
	return market.AccountSnapshot{Equity: decimal.NewFromFloat(equity), Currency: "USD"}
}

func TestComputeRiskBasedSize(t *testing.T) {
	s := NewPositionSizer(SizerConfig{RiskPercent: 1}, zerolog.Nop())

	// 100 risked over 1000 ticks at 1 per tick per lot: exactly 0.10 lots.
	got := s.Compute(account(10000), 10.0, goldSpec())
	assert.Equal(t, 0.10, got)
}

func TestComputeFixedLotWins(t *testing.T) {
	s := NewPositionSizer(SizerConfig{RiskPercent: 1, FixedLot: 0.25}, zerolog.Nop())
	got := s.Compute(account(10000), 10.0, goldSpec())
	assert.Equal(t, 0.25, got)
}

func TestComputeGuardsFallBackToMinimum(t *testing.T) {
	s := NewPositionSizer(SizerConfig{RiskPercent: 1}, zerolog.Nop())
	spec := goldSpec()

	assert.Equal(t, spec.VolumeMin, s.Compute(account(10000), 0, spec), "zero stop distance")
	assert.Equal(t, spec.VolumeMin, s.Compute(account(10000), -5, spec), "negative stop distance")

	bad := spec
	bad.TickValue = 0
	assert.Equal(t, spec.VolumeMin, s.Compute(account(10000), 10, bad), "zero tick value")

	bad = spec
	bad.TickSize = 0
	assert.Equal(t, spec.VolumeMin, s.Compute(account(10000), 10, bad), "zero tick size")
}

func TestComputeClampsToBrokerRange(t *testing.T) {
	s := NewPositionSizer(SizerConfig{RiskPercent: 50}, zerolog.Nop())
	spec := goldSpec()
	spec.VolumeMax = 2

	got := s.Compute(account(1_000_000), 1.0, spec)
	assert.Equal(t, 2.0, got, "oversized result clamps to max")

	tiny := NewPositionSizer(SizerConfig{RiskPercent: 0.001}, zerolog.Nop())
	got = tiny.Compute(account(100), 50.0, spec)
	assert.Equal(t, spec.VolumeMin, got, "dust result clamps to min")
}

func TestComputeResultAlwaysOnStepGrid(t *testing.T) {
	s := NewPositionSizer(SizerConfig{RiskPercent: 2.5}, zerolog.Nop())
	spec := goldSpec()

	for _, tc := range []struct {
		equity, stopDistance float64
	}{
		{10000, 7.3},
		{2500, 1.17},
		{999.99, 0.42},
		{123456.78, 33.3},
	} {
		got := s.Compute(account(tc.equity), tc.stopDistance, spec)
		assert.GreaterOrEqual(t, got, spec.VolumeMin)
		assert.LessOrEqual(t, got, spec.VolumeMax)

		steps := decimal.NewFromFloat(got).Div(decimal.NewFromFloat(spec.VolumeStep))
		assert.True(t, steps.Equal(steps.Floor()),
			"volume %v is not a whole number of steps (equity %v, stop %v)", got, tc.equity, tc.stopDistance)
	}
}

func TestNormalizeVolumeFloorsExactly(t *testing.T) {
	spec := goldSpec()
	// 0.07/0.01 in binary floats is 6.999...; decimal keeps the 7th step.
	assert.Equal(t, 0.07, NormalizeVolume(0.07, spec))
	assert.Equal(t, 0.07, NormalizeVolume(0.0799, spec))
	assert.True(t, math.Abs(NormalizeVolume(1.234, spec)-1.23) < 1e-12)
}
