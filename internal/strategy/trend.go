package strategy

// TrendState labels the combined trend reading for one evaluation. It is
// recomputed every bar and never carried across evaluations.
type TrendState int

const (
	TrendNone TrendState = iota
	TrendUp
	TrendDown
)

func (t TrendState) String() string {
	switch t {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	default:
		return "NONE"
	}
}

// TrendClassifier combines swing structure with EMA alignment. The EMA leg
// is optional; when disabled the swing signal stands alone.
type TrendClassifier struct {
	EMAFilterEnabled bool
}

// combineTable is the full decision table over {swing, ema} when the EMA
// filter is enabled. The swing signal leads: EMA alone never asserts a
// trend, and an outright disagreement vetoes the bar.
var combineTable = map[[2]TrendState]TrendState{
	{TrendUp, TrendUp}:     TrendUp,
	{TrendUp, TrendNone}:   TrendUp,
	{TrendUp, TrendDown}:   TrendNone,
	{TrendDown, TrendDown}: TrendDown,
	{TrendDown, TrendNone}: TrendDown,
	{TrendDown, TrendUp}:   TrendNone,
	{TrendNone, TrendUp}:   TrendNone,
	{TrendNone, TrendDown}: TrendNone,
	{TrendNone, TrendNone}: TrendNone,
}

// Classify returns the trend for the evaluation. emaFast, emaSlow and
// closePrev are shift-1 values and are only read when the EMA filter is
// enabled.
func (c TrendClassifier) Classify(swings SwingSet, emaFast, emaSlow, closePrev float64) TrendState {
	swing := SwingSignal(swings)
	if !c.EMAFilterEnabled {
		return swing
	}
	return combineTable[[2]TrendState{swing, EMASignal(emaFast, emaSlow, closePrev)}]
}

// SwingSignal reads trend from swing structure. It needs two swings on both
// sides; otherwise the signal is None. Full agreement (higher high and
// higher low, or lower high and lower low) decides outright; a partial match
// on either side still counts, with the Up conditions checked first, so a
// window showing both a higher high and a lower low reads Up.
func SwingSignal(s SwingSet) TrendState {
	if s.High == nil || s.PrevHigh == nil || s.Low == nil || s.PrevLow == nil {
		return TrendNone
	}
	higherHigh := s.High.Price > s.PrevHigh.Price
	higherLow := s.Low.Price > s.PrevLow.Price
	lowerHigh := s.High.Price < s.PrevHigh.Price
	lowerLow := s.Low.Price < s.PrevLow.Price

	switch {
	case higherHigh && higherLow:
		return TrendUp
	case lowerHigh && lowerLow:
		return TrendDown
	case higherHigh || higherLow:
		return TrendUp
	case lowerHigh || lowerLow:
		return TrendDown
	default:
		return TrendNone
	}
}

// EMASignal reads trend from EMA alignment at the close of the last bar:
// Up needs the fast EMA above the slow and the close above the slow, Down
// is the mirror, anything else is None.
func EMASignal(emaFast, emaSlow, closePrev float64) TrendState {
	switch {
	case emaFast > emaSlow && closePrev > emaSlow:
		return TrendUp
	case emaFast < emaSlow && closePrev < emaSlow:
		return TrendDown
	default:
		return TrendNone
	}
}
