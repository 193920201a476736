// Package strategy implements the decision pipeline: swing detection, trend
// classification, Fibonacci retracement levels and the entry confirmation
// stages that turn a market snapshot into an optional trade intent.
package strategy

import (
	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/market"
)

// SwingKind distinguishes swing highs from swing lows.
type SwingKind int

const (
	SwingHigh SwingKind = iota
	SwingLow
)

func (k SwingKind) String() string {
	if k == SwingHigh {
		return "high"
	}
	return "low"
}

// SwingPoint is a confirmed local extremum. BarIndex is the shift into the
// most-recent-first series it was found at.
type SwingPoint struct {
	Price    float64
	BarIndex int
	Kind     SwingKind
}

// SwingSet holds the most recent one or two confirmed swings per side.
// Swings are recomputed from the window on every evaluation, never carried
// across bars.
type SwingSet struct {
	High     *SwingPoint
	Low      *SwingPoint
	PrevHigh *SwingPoint
	PrevLow  *SwingPoint
}

// HasRange reports whether both a current swing high and low exist, so a
// retracement range can be anchored.
func (s SwingSet) HasRange() bool { return s.High != nil && s.Low != nil }

// SwingDetector locates confirmed local extrema in a bounded window. A bar
// qualifies as a swing high when its high is strictly greater than the highs
// of the strength bars on each side; one equal neighbor voids the candidate.
type SwingDetector struct {
	strength int
	lookback int
}

// NewSwingDetector builds a detector. Non-positive arguments fall back to
// strength 2 and lookback 50.
func NewSwingDetector(strength, lookback int) *SwingDetector {
	if strength <= 0 {
		strength = 2
	}
	if lookback <= 0 {
		lookback = 50
	}
	return &SwingDetector{strength: strength, lookback: lookback}
}

// Detect extracts highs and lows from the bar series and runs FindSwings.
func (d *SwingDetector) Detect(bars []market.Bar) (SwingSet, error) {
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}
	return d.FindSwings(highs, lows)
}

// FindSwings scans most-recent-first highs/lows from the newest bar backward
// and keeps the first two qualifying swings per side. Indices inside the
// confirmation margins [0,strength) and [lookback-strength,lookback) can
// never qualify. Returns ErrInsufficientData when the series is shorter
// than the lookback.
func (d *SwingDetector) FindSwings(highs, lows []float64) (SwingSet, error) {
	if len(highs) < d.lookback || len(lows) < d.lookback {
		return SwingSet{}, broker.ErrInsufficientData
	}

	var set SwingSet
	for i := d.strength; i < d.lookback-d.strength; i++ {
		if set.PrevHigh == nil && d.isSwing(highs, i, func(c, n float64) bool { return c > n }) {
			p := &SwingPoint{Price: highs[i], BarIndex: i, Kind: SwingHigh}
			if set.High == nil {
				set.High = p
			} else {
				set.PrevHigh = p
			}
		}
		if set.PrevLow == nil && d.isSwing(lows, i, func(c, n float64) bool { return c < n }) {
			p := &SwingPoint{Price: lows[i], BarIndex: i, Kind: SwingLow}
			if set.Low == nil {
				set.Low = p
			} else {
				set.PrevLow = p
			}
		}
		if set.PrevHigh != nil && set.PrevLow != nil {
			break
		}
	}
	return set, nil
}

// isSwing checks the candidate at index i against its strength flanking
// neighbors on both sides. beats must be a strict comparison: an equal
// neighbor disqualifies the candidate.
func (d *SwingDetector) isSwing(series []float64, i int, beats func(candidate, neighbor float64) bool) bool {
	for j := i - d.strength; j <= i+d.strength; j++ {
		if j == i {
			continue
		}
		if !beats(series[i], series[j]) {
			return false
		}
	}
	return true
}
