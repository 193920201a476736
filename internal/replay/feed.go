// Package replay drives the engine from recorded bars. The feed releases
// one bar per tick, so a session replayed twice over the same file makes
// identical decisions both times.
package replay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/indicator"
	"fib-trading-engine/internal/market"
)

// Feed implements broker.MarketDataFeed and broker.TickSource over a
// chronological bar series. A cursor marks the bar currently forming; each
// Next call advances it and synthesizes the opening tick of that bar.
// Indicators for timeframes other than the loaded one report unavailable,
// which the multi-timeframe stage degrades around.
type Feed struct {
	symbol string
	tf     market.Timeframe
	spec   market.SymbolSpec
	series []market.Bar // chronological, oldest first
	cursor int
	logger zerolog.Logger
}

// NewFeed wraps a chronological series. The series must be strictly
// ascending in time.
func NewFeed(symbol string, tf market.Timeframe, spec market.SymbolSpec, series []market.Bar, logger zerolog.Logger) (*Feed, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("replay: empty bar series")
	}
	for i := 1; i < len(series); i++ {
		if !series[i].Time.After(series[i-1].Time) {
			return nil, fmt.Errorf("replay: bars out of order at row %d: %s then %s",
				i, series[i-1].Time, series[i].Time)
		}
	}
	return &Feed{
		symbol: symbol,
		tf:     tf,
		spec:   spec,
		series: series,
		cursor: -1,
		logger: logger.With().Str("component", "replay_feed").Logger(),
	}, nil
}

// Len returns the number of bars loaded.
func (f *Feed) Len() int { return len(f.series) }

// Next releases the next bar and returns its opening tick. It returns
// broker.ErrStreamDone after the last bar.
func (f *Feed) Next(ctx context.Context) (market.Tick, error) {
	if err := ctx.Err(); err != nil {
		return market.Tick{}, err
	}
	if f.cursor+1 >= len(f.series) {
		return market.Tick{}, broker.ErrStreamDone
	}
	f.cursor++
	if f.cursor%500 == 0 {
		f.logger.Debug().Int("bar", f.cursor).Int("total", len(f.series)).Msg("replay progress")
	}
	return f.tickAt(f.cursor), nil
}

// GetBars returns count bars newest-first ending at the forming bar.
func (f *Feed) GetBars(_ context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	if symbol != f.symbol {
		return nil, broker.ErrUnknownSymbol
	}
	if tf != f.tf || count < 1 || f.cursor+1 < count {
		return nil, broker.ErrInsufficientData
	}
	out := make([]market.Bar, count)
	for i := 0; i < count; i++ {
		out[i] = f.series[f.cursor-i]
	}
	return out, nil
}

// GetIndicator computes the requested series over the released bars. Only
// the loaded timeframe is served.
func (f *Feed) GetIndicator(_ context.Context, symbol string, spec broker.IndicatorSpec, shift int) (float64, error) {
	if symbol != f.symbol {
		return 0, broker.ErrUnknownSymbol
	}
	if spec.Timeframe != f.tf {
		return 0, broker.ErrIndicatorUnavailable
	}
	bars := f.window(spec.Period, shift)
	switch spec.Kind {
	case broker.IndicatorEMA:
		return indicator.EMA(bars, spec.Period, shift)
	case broker.IndicatorRSI:
		return indicator.RSI(bars, spec.Period, shift)
	case broker.IndicatorATR:
		return indicator.ATR(bars, spec.Period, shift)
	default:
		return 0, broker.ErrIndicatorUnavailable
	}
}

// GetTick returns the opening tick of the forming bar.
func (f *Feed) GetTick(_ context.Context, symbol string) (market.Tick, error) {
	if symbol != f.symbol {
		return market.Tick{}, broker.ErrUnknownSymbol
	}
	if f.cursor < 0 {
		return market.Tick{}, broker.ErrNoTick
	}
	return f.tickAt(f.cursor), nil
}

// SymbolSpec returns the instrument constraints configured for the replay.
func (f *Feed) SymbolSpec(_ context.Context, symbol string) (market.SymbolSpec, error) {
	if symbol != f.symbol {
		return market.SymbolSpec{}, broker.ErrUnknownSymbol
	}
	return f.spec, nil
}

// window slices a newest-first view wide enough for the indicator math.
// Smoothed series converge within a few periods, so the window is capped
// rather than handing the full history to every call.
func (f *Feed) window(period, shift int) []market.Bar {
	n := 4*period + shift + 1
	if n > f.cursor+1 {
		n = f.cursor + 1
	}
	if n <= 0 {
		return nil
	}
	out := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		out[i] = f.series[f.cursor-i]
	}
	return out
}

func (f *Feed) tickAt(i int) market.Tick {
	bid := f.series[i].Open
	spread := float64(f.spec.SpreadPoints) * f.spec.Point
	return market.Tick{
		Time: f.series[i].Time,
		Bid:  bid,
		Ask:  bid + spread,
		Last: bid,
	}
}
