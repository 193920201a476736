package strategy

import "fib-trading-engine/internal/market"

// RejectionConfig holds the shape thresholds for the candlestick
// confirmation stage, expressed as fractions of the bar range or body.
type RejectionConfig struct {
	PinBarWickRatio     float64 `json:"pin_bar_wick_ratio"`     // favoring wick vs range
	PinBarBodyRatio     float64 `json:"pin_bar_body_ratio"`     // body vs range, upper bound
	HammerWickBodyRatio float64 `json:"hammer_wick_body_ratio"` // favoring wick vs body
}

// DefaultRejectionConfig returns the stock thresholds: a pin bar needs a
// wick of at least 60% of the range with a body no larger than 35%, and a
// hammer or shooting star a wick at least twice the body.
func DefaultRejectionConfig() RejectionConfig {
	return RejectionConfig{
		PinBarWickRatio:     0.60,
		PinBarBodyRatio:     0.35,
		HammerWickBodyRatio: 2.0,
	}
}

// HasRejectionPattern reports whether the confirmation bar shows any
// rejection shape favoring the trade direction, and names the first match.
// Bars with no range never match.
func HasRejectionPattern(bar, prev market.Bar, dir market.Side, cfg RejectionConfig) (bool, string) {
	if bar.Range() <= 0 {
		return false, ""
	}
	switch {
	case IsPinBar(bar, dir, cfg):
		return true, "pin_bar"
	case IsStrongClose(bar, dir):
		return true, "strong_close"
	case IsEngulfing(bar, prev, dir):
		return true, "engulfing"
	case IsHammerLike(bar, dir, cfg):
		return true, "hammer"
	default:
		return false, ""
	}
}

// IsPinBar reports a long rejection wick with a small body: the favoring
// wick covers at least PinBarWickRatio of the range while the body stays
// within PinBarBodyRatio of it.
func IsPinBar(bar market.Bar, dir market.Side, cfg RejectionConfig) bool {
	rng := bar.Range()
	if rng <= 0 {
		return false
	}
	wick := favoringWick(bar, dir)
	return wick >= cfg.PinBarWickRatio*rng && bar.Body() <= cfg.PinBarBodyRatio*rng
}

// IsStrongClose reports a close beyond the bar midpoint in the trade
// direction.
func IsStrongClose(bar market.Bar, dir market.Side) bool {
	if bar.Range() <= 0 {
		return false
	}
	if dir == market.Buy {
		return bar.Close > bar.Midpoint()
	}
	return bar.Close < bar.Midpoint()
}

// IsEngulfing reports whether the bar's body engulfs the previous bar's
// body against it: a bullish body swallowing a bearish one for buys, the
// mirror for sells.
func IsEngulfing(bar, prev market.Bar, dir market.Side) bool {
	if dir == market.Buy {
		return bar.Bullish() && prev.Bearish() &&
			bar.Open <= prev.Close && bar.Close >= prev.Open
	}
	return bar.Bearish() && prev.Bullish() &&
		bar.Open >= prev.Close && bar.Close <= prev.Open
}

// IsHammerLike reports a hammer (for buys) or shooting star (for sells):
// the favoring wick at least HammerWickBodyRatio times the body with the
// opposing wick smaller than the body.
func IsHammerLike(bar market.Bar, dir market.Side, cfg RejectionConfig) bool {
	body := bar.Body()
	if body <= 0 {
		return false
	}
	return favoringWick(bar, dir) >= cfg.HammerWickBodyRatio*body &&
		opposingWick(bar, dir) < body
}

// favoringWick is the wick on the rejection side of the trade: the lower
// wick for buys, the upper for sells.
func favoringWick(bar market.Bar, dir market.Side) float64 {
	if dir == market.Buy {
		return bar.LowerWick()
	}
	return bar.UpperWick()
}

func opposingWick(bar market.Bar, dir market.Side) float64 {
	if dir == market.Buy {
		return bar.UpperWick()
	}
	return bar.LowerWick()
}
