package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/indicator"
	"fib-trading-engine/internal/market"
)

const (
	// prefetchBars is the minimum kline window fetched per refresh, sized so
	// that one request covers the swing lookback and most indicator warmups.
	prefetchBars = 400
	// maxFetchBars is the Binance per-request kline cap.
	maxFetchBars = 1000
)

type klineCache struct {
	bars      []market.Bar // most-recent-first
	fetchedAt time.Time
}

// Feed serves the engine's market data interface for one Binance symbol. It
// keeps a per-timeframe kline cache that is refetched once the cached head
// bar ages past its period, computes indicator values locally from the
// cached series and reads quotes from the tick stream, falling back to REST
// before the first stream update.
type Feed struct {
	client *Client
	stream *TickStream
	symbol string
	logger zerolog.Logger

	mu     sync.Mutex
	spec   market.SymbolSpec
	caches map[market.Timeframe]*klineCache
}

// NewFeed wires a REST client and an optional tick stream into a feed for
// the symbol. The constructor does no network IO; the symbol spec is
// fetched lazily on first use.
func NewFeed(client *Client, stream *TickStream, symbol string, logger zerolog.Logger) *Feed {
	return &Feed{
		client: client,
		stream: stream,
		symbol: symbol,
		logger: logger.With().Str("component", "binance-feed").Str("symbol", symbol).Logger(),
		caches: make(map[market.Timeframe]*klineCache),
	}
}

// GetBars returns exactly count bars newest first, serving from the kline
// cache where it is still current.
func (f *Feed) GetBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	if symbol != f.symbol {
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	if count < 1 {
		return nil, broker.ErrInsufficientData
	}
	bars, err := f.window(ctx, tf, count)
	if err != nil {
		return nil, err
	}
	if len(bars) < count {
		return nil, fmt.Errorf("%w: have %d bars on %s, want %d", broker.ErrInsufficientData, len(bars), tf, count)
	}
	out := make([]market.Bar, count)
	copy(out, bars[:count])
	return out, nil
}

// GetIndicator computes the requested series over the cached klines. Fetch
// and warmup problems surface as ErrIndicatorUnavailable so the engine
// abstains instead of failing the tick.
func (f *Feed) GetIndicator(ctx context.Context, symbol string, spec broker.IndicatorSpec, shift int) (float64, error) {
	if symbol != f.symbol {
		return 0, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	if spec.Period < 1 || shift < 0 {
		return 0, broker.ErrIndicatorUnavailable
	}

	// 4 periods of history is enough for the recursive EMA to converge.
	need := 4*spec.Period + shift + 1
	bars, err := f.window(ctx, spec.Timeframe, need)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", broker.ErrIndicatorUnavailable, err)
	}
	if len(bars) < need {
		need = len(bars)
	}
	series := bars[:need]

	switch spec.Kind {
	case broker.IndicatorEMA:
		return indicator.EMA(series, spec.Period, shift)
	case broker.IndicatorRSI:
		return indicator.RSI(series, spec.Period, shift)
	case broker.IndicatorATR:
		return indicator.ATR(series, spec.Period, shift)
	default:
		return 0, fmt.Errorf("%w: kind %s", broker.ErrIndicatorUnavailable, spec.Kind)
	}
}

// GetTick returns the latest stream quote, or the REST book ticker before
// the stream has delivered one.
func (f *Feed) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	if symbol != f.symbol {
		return market.Tick{}, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	if f.stream != nil {
		if tick := f.stream.Last(); !tick.IsZero() {
			return tick, nil
		}
	}
	return f.client.GetBookTicker(ctx, symbol)
}

// SymbolSpec fetches the exchange constraints once and caches them.
func (f *Feed) SymbolSpec(ctx context.Context, symbol string) (market.SymbolSpec, error) {
	if symbol != f.symbol {
		return market.SymbolSpec{}, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spec.Name != "" {
		return f.spec, nil
	}
	spec, err := f.client.SymbolSpec(ctx, symbol)
	if err != nil {
		return market.SymbolSpec{}, err
	}
	f.spec = spec
	f.logger.Info().
		Float64("tick_size", spec.TickSize).
		Float64("volume_min", spec.VolumeMin).
		Int("digits", spec.Digits).
		Msg("symbol spec resolved")
	return spec, nil
}

// window returns the cached most-recent-first series for the timeframe,
// refreshing it when the head bar has aged past its period or the cache
// holds fewer bars than needed.
func (f *Feed) window(ctx context.Context, tf market.Timeframe, need int) ([]market.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.caches[tf]
	if c != nil && len(c.bars) >= need && !stale(c, tf) {
		return c.bars, nil
	}

	limit := need
	if limit < prefetchBars {
		limit = prefetchBars
	}
	if limit > maxFetchBars {
		limit = maxFetchBars
	}
	klines, err := f.client.GetKlines(ctx, f.symbol, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s klines: %w", tf, err)
	}

	bars := make([]market.Bar, len(klines))
	for i, b := range klines {
		bars[len(klines)-1-i] = b
	}
	f.caches[tf] = &klineCache{bars: bars, fetchedAt: time.Now()}
	f.logger.Debug().Str("timeframe", tf.String()).Int("bars", len(bars)).Msg("kline cache refreshed")
	return bars, nil
}

// stale reports whether a new bar should have opened since the cache was
// filled. The head bar's open time plus one period is the next open.
func stale(c *klineCache, tf market.Timeframe) bool {
	if len(c.bars) == 0 {
		return true
	}
	return time.Since(c.bars[0].Time) >= tf.Duration()
}
