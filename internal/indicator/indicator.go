// Package indicator computes the moving-average, momentum and volatility
// series the strategy consumes. All functions take bars ordered
// most-recent-first and a shift: 0 addresses the newest bar, 1 the bar
// before it, and so on.
package indicator

import (
	"math"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/market"
)

// window returns the chronological closes ending at the shift bar, or false
// when fewer than need bars are available.
func window(bars []market.Bar, shift, need int) ([]market.Bar, bool) {
	if shift < 0 || len(bars)-shift < need {
		return nil, false
	}
	chrono := make([]market.Bar, 0, len(bars)-shift)
	for i := len(bars) - 1; i >= shift; i-- {
		chrono = append(chrono, bars[i])
	}
	return chrono, true
}

// SMA returns the simple moving average of closes at the given shift.
func SMA(bars []market.Bar, period, shift int) (float64, error) {
	if period < 1 {
		return 0, broker.ErrIndicatorUnavailable
	}
	chrono, ok := window(bars, shift, period)
	if !ok {
		return 0, broker.ErrIndicatorUnavailable
	}
	sum := 0.0
	for _, b := range chrono[len(chrono)-period:] {
		sum += b.Close
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average of closes at the given shift.
// The series is seeded with the SMA of the oldest period closes and smoothed
// forward with multiplier 2/(period+1).
func EMA(bars []market.Bar, period, shift int) (float64, error) {
	if period < 1 {
		return 0, broker.ErrIndicatorUnavailable
	}
	chrono, ok := window(bars, shift, period)
	if !ok {
		return 0, broker.ErrIndicatorUnavailable
	}
	seed := 0.0
	for _, b := range chrono[:period] {
		seed += b.Close
	}
	ema := seed / float64(period)
	k := 2.0 / (float64(period) + 1)
	for _, b := range chrono[period:] {
		ema = (b.Close-ema)*k + ema
	}
	return ema, nil
}

// RSI returns the Wilder-smoothed relative strength index at the given
// shift. A window with no losses reads 100, with no gains 0.
func RSI(bars []market.Bar, period, shift int) (float64, error) {
	if period < 1 {
		return 0, broker.ErrIndicatorUnavailable
	}
	chrono, ok := window(bars, shift, period+1)
	if !ok {
		return 0, broker.ErrIndicatorUnavailable
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := chrono[i].Close - chrono[i-1].Close
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(chrono); i++ {
		delta := chrono[i].Close - chrono[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// ATR returns the average true range at the given shift: the simple mean of
// the last period true ranges, where each true range is the largest of
// high-low, |high-prevClose| and |low-prevClose|.
func ATR(bars []market.Bar, period, shift int) (float64, error) {
	if period < 1 {
		return 0, broker.ErrIndicatorUnavailable
	}
	chrono, ok := window(bars, shift, period+1)
	if !ok {
		return 0, broker.ErrIndicatorUnavailable
	}
	sum := 0.0
	start := len(chrono) - period
	for i := start; i < len(chrono); i++ {
		sum += trueRange(chrono[i], chrono[i-1])
	}
	return sum / float64(period), nil
}

func trueRange(b, prev market.Bar) float64 {
	tr := b.High - b.Low
	if hc := math.Abs(b.High - prev.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(b.Low - prev.Close); lc > tr {
		tr = lc
	}
	return tr
}
