package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/events"
	"fib-trading-engine/internal/market"
	"fib-trading-engine/internal/risk"
	"fib-trading-engine/internal/strategy"
)

// Config holds every knob of one engine instance.
type Config struct {
	Symbol    string           `json:"symbol"`
	Timeframe market.Timeframe `json:"timeframe"`

	SwingStrength int `json:"swing_strength"`
	SwingLookback int `json:"swing_lookback"`

	UseEMAFilter  bool `json:"use_ema_filter"`
	EMAFastPeriod int  `json:"ema_fast_period"`
	EMASlowPeriod int  `json:"ema_slow_period"`

	ATRPeriod int `json:"atr_period"`
	RSIPeriod int `json:"rsi_period"`

	MaxSpreadPoints int    `json:"max_spread_points"`
	SinglePosition  bool   `json:"single_position"`
	OrderComment    string `json:"order_comment"`

	Pipeline strategy.PipelineConfig `json:"pipeline"`
	MTF      strategy.MTFConfig      `json:"mtf"`
	Sizer    risk.SizerConfig        `json:"sizer"`
	Manager  risk.ManagerConfig      `json:"manager"`
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		Symbol:          "XAUUSD",
		Timeframe:       market.M15,
		SwingStrength:   2,
		SwingLookback:   50,
		UseEMAFilter:    true,
		EMAFastPeriod:   50,
		EMASlowPeriod:   200,
		ATRPeriod:       14,
		RSIPeriod:       14,
		MaxSpreadPoints: 50,
		SinglePosition:  true,
		OrderComment:    "fib-engine",
		Pipeline:        strategy.DefaultPipelineConfig(),
		MTF: strategy.MTFConfig{
			Timeframes: []market.Timeframe{market.H1, market.H4, market.D1},
			FastPeriod: 50,
			SlowPeriod: 200,
		},
		Sizer:   risk.DefaultSizerConfig(),
		Manager: risk.DefaultManagerConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Symbol == "" {
		c.Symbol = d.Symbol
	}
	if c.Timeframe == "" {
		c.Timeframe = d.Timeframe
	}
	if c.SwingStrength <= 0 {
		c.SwingStrength = d.SwingStrength
	}
	if c.SwingLookback <= 0 {
		c.SwingLookback = d.SwingLookback
	}
	if c.EMAFastPeriod <= 0 {
		c.EMAFastPeriod = d.EMAFastPeriod
	}
	if c.EMASlowPeriod <= 0 {
		c.EMASlowPeriod = d.EMASlowPeriod
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = d.RSIPeriod
	}
	if c.MaxSpreadPoints <= 0 {
		c.MaxSpreadPoints = d.MaxSpreadPoints
	}
	if c.OrderComment == "" {
		c.OrderComment = d.OrderComment
	}
	if c.MTF.FastPeriod <= 0 {
		c.MTF.FastPeriod = d.MTF.FastPeriod
	}
	if c.MTF.SlowPeriod <= 0 {
		c.MTF.SlowPeriod = d.MTF.SlowPeriod
	}
	if len(c.MTF.Timeframes) == 0 {
		c.MTF.Timeframes = d.MTF.Timeframes
	}
	return c
}

// Controller reacts to ticks for one (symbol, timeframe) pair. Position
// management runs on every tick; entry evaluation runs once per new bar.
// It is not safe for concurrent use: one goroutine must own it and feed
// it ticks in arrival order, since stop tightening compares against the
// previously set stop.
type Controller struct {
	cfg     Config
	feed    broker.MarketDataFeed
	gateway broker.OrderGateway
	account broker.AccountInfo
	bus     *events.EventBus
	logger  zerolog.Logger

	detector   *strategy.SwingDetector
	classifier strategy.TrendClassifier
	pipeline   *strategy.EntryPipeline
	sizer      *risk.PositionSizer
	manager    *risk.PositionManager

	spec  market.SymbolSpec
	state State
}

// NewController wires the strategy components from one Config. Zero config
// fields fall back to DefaultConfig values.
func NewController(cfg Config, feed broker.MarketDataFeed, gateway broker.OrderGateway, account broker.AccountInfo, bus *events.EventBus, logger zerolog.Logger) *Controller {
	cfg = cfg.withDefaults()
	log := logger.With().
		Str("component", "controller").
		Str("symbol", cfg.Symbol).
		Str("timeframe", cfg.Timeframe.String()).
		Logger()

	return &Controller{
		cfg:        cfg,
		feed:       feed,
		gateway:    gateway,
		account:    account,
		bus:        bus,
		logger:     log,
		detector:   strategy.NewSwingDetector(cfg.SwingStrength, cfg.SwingLookback),
		classifier: strategy.TrendClassifier{EMAFilterEnabled: cfg.UseEMAFilter},
		pipeline:   strategy.NewEntryPipeline(cfg.Pipeline, log),
		sizer:      risk.NewPositionSizer(cfg.Sizer, log),
		manager:    risk.NewPositionManager(cfg.Manager, log),
	}
}

// Start resolves the symbol constraints and announces the engine.
func (c *Controller) Start(ctx context.Context) error {
	spec, err := c.feed.SymbolSpec(ctx, c.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("resolve symbol %s: %w", c.cfg.Symbol, err)
	}
	c.spec = spec
	c.logger.Info().
		Int("digits", spec.Digits).
		Float64("point", spec.Point).
		Float64("volume_min", spec.VolumeMin).
		Msg("engine started")
	c.bus.PublishEngineStarted(c.cfg.Symbol, c.cfg.Timeframe.String())
	return nil
}

// Stop announces shutdown with the session counters.
func (c *Controller) Stop() {
	c.logger.Info().
		Uint64("ticks_seen", c.state.TicksSeen).
		Uint64("bars_seen", c.state.BarsSeen).
		Msg("engine stopped")
	c.bus.PublishEngineStopped(c.cfg.Symbol, c.state.TicksSeen, c.state.BarsSeen)
}

// State returns a copy of the current engine state for display and tests.
func (c *Controller) State() State {
	return c.state
}

// OnTick handles one quote: always runs position management, then entry
// evaluation if this tick opened a new bar. Abstain conditions (not enough
// history, indicator unavailable, filters unmet) return nil; only transport
// level failures surface as errors, and the caller is expected to log and
// carry on.
func (c *Controller) OnTick(ctx context.Context, tick market.Tick) error {
	c.state.TicksSeen++

	positions, err := c.gateway.OpenPositions(ctx, c.cfg.Symbol)
	if err != nil {
		// Without a view of the book neither managing stops nor the
		// single-position gate can run safely. Skip the whole tick.
		c.logger.Warn().Err(err).Msg("open positions unavailable, tick skipped")
		return nil
	}

	c.managePositions(ctx, positions, tick)
	return c.evaluateBar(ctx, positions, tick)
}

// managePositions feeds every open position through the stop manager and
// forwards its tightening proposals to the gateway.
func (c *Controller) managePositions(ctx context.Context, positions []market.Position, tick market.Tick) {
	if len(positions) == 0 {
		return
	}

	atr, err := c.feed.GetIndicator(ctx, c.cfg.Symbol, broker.IndicatorSpec{
		Kind: broker.IndicatorATR, Timeframe: c.cfg.Timeframe, Period: c.cfg.ATRPeriod,
	}, 1)
	if err != nil {
		c.logger.Debug().Err(err).Msg("atr unavailable, stop management abstains")
		return
	}

	byTicket := make(map[uint64]market.Position, len(positions))
	for _, pos := range positions {
		byTicket[pos.Ticket] = pos
	}

	for _, upd := range c.manager.Evaluate(positions, tick, atr, c.spec) {
		if err := c.gateway.ModifyPosition(ctx, upd.Ticket, upd.NewStopLoss, upd.TakeProfit); err != nil {
			c.logger.Error().Err(err).Uint64("ticket", upd.Ticket).Msg("stop modification failed")
			c.bus.PublishError("controller", "stop modification failed", err)
			continue
		}
		old := byTicket[upd.Ticket].StopLoss
		c.logger.Info().
			Uint64("ticket", upd.Ticket).
			Float64("old_stop", old).
			Float64("new_stop", upd.NewStopLoss).
			Str("reason", upd.Reason).
			Msg("stop tightened")
		c.bus.PublishStopUpdated(upd.Ticket, c.cfg.Symbol, old, upd.NewStopLoss, upd.Reason)
	}
}

// evaluateBar runs the analysis chain when a new bar has opened since the
// last evaluation. Swing, trend and level telemetry refresh even on bars
// where the spread or single-position gate blocks entry.
func (c *Controller) evaluateBar(ctx context.Context, positions []market.Position, tick market.Tick) error {
	bars, err := c.feed.GetBars(ctx, c.cfg.Symbol, c.cfg.Timeframe, c.cfg.SwingLookback+2)
	if err != nil {
		if errors.Is(err, broker.ErrInsufficientData) {
			c.logger.Debug().Err(err).Msg("bar history short, abstaining")
			return nil
		}
		return fmt.Errorf("get bars: %w", err)
	}
	if !bars[0].Time.After(c.state.LastBarTime) {
		return nil
	}
	c.state.LastBarTime = bars[0].Time
	c.state.BarsSeen++
	c.bus.PublishNewBar(c.cfg.Symbol, c.cfg.Timeframe.String(), bars[0].Time)

	// bars[0] is still forming; everything downstream reads closed bars.
	closed := bars[1:]

	trend, levels, ok := c.refreshAnalysis(ctx, closed)
	if !ok {
		return nil
	}

	if sp := c.spec.SpreadPointsAt(tick); sp > c.cfg.MaxSpreadPoints {
		reason := fmt.Sprintf("spread %d over limit %d", sp, c.cfg.MaxSpreadPoints)
		c.logger.Debug().Int("spread_points", sp).Msg("spread gate blocked entry")
		c.bus.PublishSignalRejected(c.cfg.Symbol, reason)
		return nil
	}
	if c.cfg.SinglePosition && len(positions) > 0 {
		c.logger.Debug().Int("open_positions", len(positions)).Msg("single position gate blocked entry")
		return nil
	}

	atr, err := c.feed.GetIndicator(ctx, c.cfg.Symbol, broker.IndicatorSpec{
		Kind: broker.IndicatorATR, Timeframe: c.cfg.Timeframe, Period: c.cfg.ATRPeriod,
	}, 1)
	if err != nil {
		c.logger.Debug().Err(err).Msg("atr unavailable, entry abstains")
		return nil
	}

	in := strategy.PipelineInput{
		Trend:  trend,
		Levels: levels,
		Bars:   closed,
		ATR:    atr,
		Tick:   tick,
	}
	if c.cfg.Pipeline.UseRSIFilter {
		rsiPrev, err1 := c.rsi(ctx, 1)
		rsiPrev2, err2 := c.rsi(ctx, 2)
		if err1 == nil && err2 == nil {
			in.RSIPrev, in.RSIPrev2, in.RSIAvailable = rsiPrev, rsiPrev2, true
		} else {
			c.logger.Debug().AnErr("rsi_prev", err1).AnErr("rsi_prev2", err2).Msg("rsi unavailable")
		}
	}
	if c.cfg.Pipeline.UseMTFFilter {
		in.MTFVotes = strategy.SampleMTFVotes(ctx, c.feed, c.cfg.Symbol, c.cfg.MTF, c.logger)
	}

	intent, reason := c.pipeline.Evaluate(in)
	if intent == nil {
		c.logger.Debug().Str("reason", reason).Msg("no entry this bar")
		c.bus.PublishSignalRejected(c.cfg.Symbol, reason)
		return nil
	}

	intent.ID = uuid.New().String()
	c.state.LastSignalID = intent.ID
	c.state.LastSignalAt = tick.Time
	c.submit(ctx, intent)
	return nil
}

// refreshAnalysis recomputes swings, trend and levels from the closed bars
// and stores them in the state. ok is false when any step abstained and no
// tradeable levels exist this bar.
func (c *Controller) refreshAnalysis(ctx context.Context, closed []market.Bar) (strategy.TrendState, strategy.FibLevelSet, bool) {
	c.state.Trend = strategy.TrendNone
	c.state.Swings = strategy.SwingSet{}
	c.state.Levels = strategy.FibLevelSet{}

	swings, err := c.detector.Detect(closed)
	if err != nil {
		c.logger.Debug().Err(err).Msg("swing detection abstains")
		return strategy.TrendNone, strategy.FibLevelSet{}, false
	}
	c.state.Swings = swings

	var emaFast, emaSlow float64
	if c.cfg.UseEMAFilter {
		emaFast, err = c.ema(ctx, c.cfg.EMAFastPeriod)
		if err == nil {
			emaSlow, err = c.ema(ctx, c.cfg.EMASlowPeriod)
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("trend ema unavailable, entry abstains")
			return strategy.TrendNone, strategy.FibLevelSet{}, false
		}
	}

	trend := c.classifier.Classify(swings, emaFast, emaSlow, closed[0].Close)
	c.state.Trend = trend
	if trend == strategy.TrendNone {
		return strategy.TrendNone, strategy.FibLevelSet{}, false
	}

	levels, err := strategy.ComputeFibLevels(swings.High.Price, swings.Low.Price, trend)
	if err != nil {
		c.logger.Debug().Err(err).Msg("fib geometry rejected")
		return trend, strategy.FibLevelSet{}, false
	}
	c.state.Levels = levels
	return trend, levels, true
}

// submit sizes the accepted intent and sends it to the gateway. Submission
// is terminal for the bar: failures are logged and published, never retried
// before the next bar.
func (c *Controller) submit(ctx context.Context, intent *strategy.TradeIntent) {
	acct, err := c.account.Snapshot(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("account snapshot failed, signal dropped")
		c.bus.PublishError("controller", "account snapshot failed", err)
		return
	}

	stopDistance := math.Abs(intent.EntryPriceHint - intent.StopLoss)
	volume := c.sizer.Compute(acct, stopDistance, c.spec)

	c.bus.PublishSignal(intent.ID, c.cfg.Symbol, intent.Direction.String(), intent.Reason,
		intent.EntryPriceHint, intent.StopLoss, intent.TakeProfit, volume)
	c.logger.Info().
		Str("signal_id", intent.ID).
		Str("direction", intent.Direction.String()).
		Float64("entry", intent.EntryPriceHint).
		Float64("stop_loss", intent.StopLoss).
		Float64("take_profit", intent.TakeProfit).
		Float64("volume", volume).
		Str("confirmations", intent.Reason).
		Msg("submitting order")

	// The short signal id in the comment ties the fill back to the
	// journaled signal row.
	req := broker.OrderRequest{
		Symbol:     c.cfg.Symbol,
		Volume:     volume,
		Price:      intent.EntryPriceHint,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Comment:    c.cfg.OrderComment + " " + intent.ID[:8],
	}
	var res broker.OrderResult
	if intent.Direction == market.Buy {
		res, err = c.gateway.Buy(ctx, req)
	} else {
		res, err = c.gateway.Sell(ctx, req)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("order submission failed")
		c.bus.PublishOrderFailed(c.cfg.Symbol, 0, err.Error())
		return
	}
	if !res.Success {
		c.logger.Warn().Int("retcode", res.RetCode).Str("comment", res.Comment).Msg("order rejected")
		c.bus.PublishOrderFailed(c.cfg.Symbol, res.RetCode, res.Comment)
		return
	}

	c.logger.Info().
		Uint64("ticket", res.Ticket).
		Float64("fill_price", res.FillPrice).
		Float64("volume", res.Volume).
		Msg("position opened")
	c.bus.PublishTradeOpened(res.Ticket, c.cfg.Symbol, intent.Direction.String(), res.FillPrice, res.Volume)
}

func (c *Controller) ema(ctx context.Context, period int) (float64, error) {
	return c.feed.GetIndicator(ctx, c.cfg.Symbol, broker.IndicatorSpec{
		Kind: broker.IndicatorEMA, Timeframe: c.cfg.Timeframe, Period: period,
	}, 1)
}

func (c *Controller) rsi(ctx context.Context, shift int) (float64, error) {
	return c.feed.GetIndicator(ctx, c.cfg.Symbol, broker.IndicatorSpec{
		Kind: broker.IndicatorRSI, Timeframe: c.cfg.Timeframe, Period: c.cfg.RSIPeriod,
	}, shift)
}
