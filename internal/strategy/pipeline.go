package strategy

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"fib-trading-engine/internal/market"
)

// PipelineConfig controls the confirmation stages and the stop/target
// buffers. Tolerances and buffers are ATR multiples.
type PipelineConfig struct {
	ZoneToleranceFactor float64 `json:"zone_tolerance_factor"` // proximity band around the 61.8 level
	InvalidationFactor  float64 `json:"invalidation_factor"`   // allowed breach beyond the 100% level
	SLBufferFactor      float64 `json:"sl_buffer_factor"`
	TPBufferFactor      float64 `json:"tp_buffer_factor"`

	UseCandlestickFilter bool            `json:"use_candlestick_filter"`
	Rejection            RejectionConfig `json:"rejection"`

	UseRSIFilter  bool    `json:"use_rsi_filter"`
	RSIOversold   float64 `json:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought"`

	UseMTFFilter    bool `json:"use_mtf_filter"`
	MTFMinAgreement int  `json:"mtf_min_agreement"`
}

// DefaultPipelineConfig returns the stock stage settings with every filter
// enabled.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ZoneToleranceFactor:  0.3,
		InvalidationFactor:   0.1,
		SLBufferFactor:       0.5,
		TPBufferFactor:       0.5,
		UseCandlestickFilter: true,
		Rejection:            DefaultRejectionConfig(),
		UseRSIFilter:         true,
		RSIOversold:          30,
		RSIOverbought:        70,
		UseMTFFilter:         true,
		MTFMinAgreement:      2,
	}
}

// PipelineInput is everything one evaluation reads. Bars holds the closed
// bars most-recent-first (Bars[0] is the last closed bar); RSI values are
// shift 1 and shift 2; MTFVotes carries one vote per sampled timeframe.
type PipelineInput struct {
	Trend        TrendState
	Levels       FibLevelSet
	Bars         []market.Bar
	ATR          float64
	RSIPrev      float64
	RSIPrev2     float64
	RSIAvailable bool
	MTFVotes     []TrendState
	Tick         market.Tick
}

// TradeIntent is a fully specified entry candidate. It lives for one
// evaluation only and is never persisted. ID is assigned by the controller
// on acceptance so that evaluation itself stays deterministic.
type TradeIntent struct {
	ID             string
	Direction      market.Side
	EntryPriceHint float64
	StopLoss       float64
	TakeProfit     float64
	Reason         string
}

// EntryPipeline runs the confirmation stages in fixed order and
// short-circuits on the first failure. Evaluation is pure over its input:
// identical inputs produce identical outcomes.
type EntryPipeline struct {
	cfg    PipelineConfig
	logger zerolog.Logger
}

// NewEntryPipeline builds the pipeline with the given stage config.
func NewEntryPipeline(cfg PipelineConfig, logger zerolog.Logger) *EntryPipeline {
	return &EntryPipeline{
		cfg:    cfg,
		logger: logger.With().Str("component", "entry_pipeline").Logger(),
	}
}

// Evaluate returns a trade intent when every stage confirms, or nil with
// the reason the candidate was dropped. A dropped candidate is an abstain,
// not an error.
func (p *EntryPipeline) Evaluate(in PipelineInput) (*TradeIntent, string) {
	if in.Trend != TrendUp && in.Trend != TrendDown {
		return nil, "no trend"
	}
	if len(in.Bars) < 2 {
		return nil, "insufficient closed bars"
	}
	if in.ATR <= 0 {
		return nil, "atr not positive"
	}

	dir := market.Buy
	if in.Trend == TrendDown {
		dir = market.Sell
	}

	confirmations := []string{"golden_zone"}
	if passed, reason := p.checkZone(in, dir); !passed {
		return nil, reason
	}
	if p.cfg.UseCandlestickFilter {
		passed, pattern := HasRejectionPattern(in.Bars[0], in.Bars[1], dir, p.cfg.Rejection)
		if !passed {
			return nil, "no rejection pattern"
		}
		confirmations = append(confirmations, pattern)
	}
	if p.cfg.UseRSIFilter {
		if passed, reason := p.checkRSI(in, dir); !passed {
			return nil, reason
		}
		confirmations = append(confirmations, "rsi")
	}
	if p.cfg.UseMTFFilter {
		if passed, reason := p.checkMTF(in); !passed {
			return nil, reason
		}
		confirmations = append(confirmations, "mtf")
	}

	intent, reason := p.buildIntent(in, dir, confirmations)
	if intent == nil {
		return nil, reason
	}
	p.logger.Debug().
		Str("direction", dir.String()).
		Float64("entry", intent.EntryPriceHint).
		Float64("stop_loss", intent.StopLoss).
		Float64("take_profit", intent.TakeProfit).
		Str("confirmations", intent.Reason).
		Msg("entry confirmed")
	return intent, ""
}

// checkZone verifies the retracement reached the golden zone, held near the
// 61.8 level, closed back on the trend side of it and never invalidated the
// 100% anchor.
func (p *EntryPipeline) checkZone(in PipelineInput, dir market.Side) (bool, string) {
	last, prev := in.Bars[0], in.Bars[1]
	lv := in.Levels
	zoneTol := in.ATR * p.cfg.ZoneToleranceFactor
	invTol := in.ATR * p.cfg.InvalidationFactor

	if dir == market.Buy {
		if last.Low > lv.Level382 {
			return false, "retracement short of 38.2"
		}
		if last.Low > lv.Level618+zoneTol && prev.Low > lv.Level618+zoneTol {
			return false, "never near 61.8"
		}
		if last.Close <= lv.Level618 {
			return false, "no rejection close above 61.8"
		}
		if last.Low < lv.Level100-invTol || prev.Low < lv.Level100-invTol {
			return false, "setup invalidated below 100"
		}
		return true, ""
	}

	if last.High < lv.Level382 {
		return false, "retracement short of 38.2"
	}
	if last.High < lv.Level618-zoneTol && prev.High < lv.Level618-zoneTol {
		return false, "never near 61.8"
	}
	if last.Close >= lv.Level618 {
		return false, "no rejection close below 61.8"
	}
	if last.High > lv.Level100+invTol || prev.High > lv.Level100+invTol {
		return false, "setup invalidated above 100"
	}
	return true, ""
}

// checkRSI applies the momentum confirmation: an oversold reading or rising
// momentum with headroom for buys, the mirror for sells. The stage abstains
// when the series is unavailable.
func (p *EntryPipeline) checkRSI(in PipelineInput, dir market.Side) (bool, string) {
	if !in.RSIAvailable {
		return false, "rsi unavailable"
	}
	if dir == market.Buy {
		if in.RSIPrev <= p.cfg.RSIOversold {
			return true, ""
		}
		if in.RSIPrev > in.RSIPrev2 && in.RSIPrev < p.cfg.RSIOverbought {
			return true, ""
		}
		return false, "rsi not confirming buy"
	}
	if in.RSIPrev >= p.cfg.RSIOverbought {
		return true, ""
	}
	if in.RSIPrev < in.RSIPrev2 && in.RSIPrev > p.cfg.RSIOversold {
		return true, ""
	}
	return false, "rsi not confirming sell"
}

// checkMTF requires the candidate direction to win at least
// min(MTFMinAgreement, sampled timeframes) votes. Unsampled timeframes
// lower the bar instead of failing it.
func (p *EntryPipeline) checkMTF(in PipelineInput) (bool, string) {
	required := p.cfg.MTFMinAgreement
	if len(in.MTFVotes) < required {
		required = len(in.MTFVotes)
	}
	agreements := countAgreement(in.MTFVotes, in.Trend)
	if agreements < required {
		return false, fmt.Sprintf("mtf agreement %d below required %d", agreements, required)
	}
	return true, ""
}

// buildIntent derives the stop and target from the level anchors and
// rejects candidates whose geometry lands on the wrong side of the entry
// price.
func (p *EntryPipeline) buildIntent(in PipelineInput, dir market.Side, confirmations []string) (*TradeIntent, string) {
	lv := in.Levels
	slBuf := in.ATR * p.cfg.SLBufferFactor
	tpBuf := in.ATR * p.cfg.TPBufferFactor

	var entry, sl, tp float64
	if dir == market.Buy {
		entry = in.Tick.Ask
		sl = lv.Level100 - slBuf
		tp = lv.Level0 + tpBuf
		if sl >= entry || tp <= entry {
			return nil, "stop or target on wrong side of price"
		}
	} else {
		entry = in.Tick.Bid
		sl = lv.Level100 + slBuf
		tp = lv.Level0 - tpBuf
		if sl <= entry || tp >= entry {
			return nil, "stop or target on wrong side of price"
		}
	}

	return &TradeIntent{
		Direction:      dir,
		EntryPriceHint: entry,
		StopLoss:       sl,
		TakeProfit:     tp,
		Reason:         strings.Join(confirmations, "+"),
	}, ""
}
