package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/market"
)

// MTFConfig names the higher timeframes sampled for the multi-timeframe
// vote and the EMA pair read on each. The agreement quorum lives in
// PipelineConfig; this only describes what to sample.
type MTFConfig struct {
	Timeframes []market.Timeframe
	FastPeriod int
	SlowPeriod int
}

// SampleMTFVotes reads fast/slow EMA alignment at shift 1 on each configured
// timeframe and returns one vote per timeframe that could be sampled.
// Timeframes whose indicators are unavailable are dropped rather than
// counted against the candidate.
func SampleMTFVotes(ctx context.Context, feed broker.MarketDataFeed, symbol string, cfg MTFConfig, logger zerolog.Logger) []TrendState {
	votes := make([]TrendState, 0, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		fast, err := feed.GetIndicator(ctx, symbol, broker.IndicatorSpec{
			Kind: broker.IndicatorEMA, Timeframe: tf, Period: cfg.FastPeriod,
		}, 1)
		if err != nil {
			logger.Debug().Str("timeframe", tf.String()).Err(err).Msg("mtf sample skipped")
			continue
		}
		slow, err := feed.GetIndicator(ctx, symbol, broker.IndicatorSpec{
			Kind: broker.IndicatorEMA, Timeframe: tf, Period: cfg.SlowPeriod,
		}, 1)
		if err != nil {
			logger.Debug().Str("timeframe", tf.String()).Err(err).Msg("mtf sample skipped")
			continue
		}
		switch {
		case fast > slow:
			votes = append(votes, TrendUp)
		case fast < slow:
			votes = append(votes, TrendDown)
		default:
			votes = append(votes, TrendNone)
		}
	}
	return votes
}

// countAgreement tallies votes matching the candidate direction.
func countAgreement(votes []TrendState, want TrendState) int {
	n := 0
	for _, v := range votes {
		if v == want {
			n++
		}
	}
	return n
}
