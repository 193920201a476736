package strategy

import "errors"

// ErrInvalidSwingGeometry rejects a retracement range whose high does not
// sit strictly above its low.
var ErrInvalidSwingGeometry = errors.New("swing high not above swing low")

// ErrNoTrend rejects a level computation without a directional trend.
var ErrNoTrend = errors.New("no trend for fib levels")

// FibRatios are the retracement ratios of a level set, in anchor order.
var FibRatios = [7]float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1}

// FibLevelSet holds the seven retracement prices for the active swing range.
// Level0 is the anchor price at 0% retracement (the swing high in an
// uptrend, the swing low in a downtrend) and Level100 the opposite anchor.
// The band between Level382 and Level618 is the golden zone.
type FibLevelSet struct {
	Trend    TrendState
	Level0   float64
	Level236 float64
	Level382 float64
	Level50  float64
	Level618 float64
	Level786 float64
	Level100 float64
}

// Levels returns the seven prices in FibRatios order.
func (f FibLevelSet) Levels() [7]float64 {
	return [7]float64{f.Level0, f.Level236, f.Level382, f.Level50, f.Level618, f.Level786, f.Level100}
}

// ComputeFibLevels anchors the level set on the current swing range. In an
// uptrend the levels descend from the swing high at 0% to the swing low at
// 100%; in a downtrend they ascend from the swing low. Requires
// swingHigh > swingLow and a directional trend.
func ComputeFibLevels(swingHigh, swingLow float64, trend TrendState) (FibLevelSet, error) {
	if trend != TrendUp && trend != TrendDown {
		return FibLevelSet{}, ErrNoTrend
	}
	if swingHigh <= swingLow {
		return FibLevelSet{}, ErrInvalidSwingGeometry
	}

	span := swingHigh - swingLow
	at := func(ratio float64) float64 {
		if trend == TrendUp {
			return swingHigh - ratio*span
		}
		return swingLow + ratio*span
	}
	return FibLevelSet{
		Trend:    trend,
		Level0:   at(0),
		Level236: at(0.236),
		Level382: at(0.382),
		Level50:  at(0.5),
		Level618: at(0.618),
		Level786: at(0.786),
		Level100: at(1),
	}, nil
}
