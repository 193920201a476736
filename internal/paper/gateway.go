// Package paper simulates an order gateway and account against a live or
// replayed quote stream. Fills are immediate at the requested price and
// stops are swept on every tick, stop before target.
package paper

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/events"
	"fib-trading-engine/internal/market"
)

// Close reasons recorded on ClosedTrade.
const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonManual     = "manual"
)

// ClosedTrade is one realized round trip.
type ClosedTrade struct {
	Ticket     uint64          `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Side       market.Side     `json:"side"`
	Volume     float64         `json:"volume"`
	OpenPrice  float64         `json:"open_price"`
	ClosePrice float64         `json:"close_price"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
	PnL        decimal.Decimal `json:"pnl"`
	Reason     string          `json:"reason"`
}

// Summary aggregates the session so far.
type Summary struct {
	Trades    int
	Wins      int
	Losses    int
	NetPnL    decimal.Decimal
	Balance   decimal.Decimal
	OpenCount int
}

// Gateway implements broker.OrderGateway and broker.AccountInfo against an
// in-memory book.
type Gateway struct {
	mu         sync.Mutex
	spec       market.SymbolSpec
	balance    decimal.Decimal
	positions  map[uint64]*market.Position
	closed     []ClosedTrade
	nextTicket uint64
	lastTick   market.Tick
	bus        *events.EventBus
	logger     zerolog.Logger
}

// NewGateway builds a paper gateway with the given starting balance in the
// account currency. A non-positive balance falls back to 10000.
func NewGateway(initialBalance float64, spec market.SymbolSpec, bus *events.EventBus, logger zerolog.Logger) *Gateway {
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	return &Gateway{
		spec:      spec,
		balance:   decimal.NewFromFloat(initialBalance),
		positions: make(map[uint64]*market.Position),
		bus:       bus,
		logger:    logger.With().Str("component", "paper_gateway").Logger(),
	}
}

// TickSource wraps a source so that every tick is marked against the book
// before the engine sees it: stops trigger at the quote that breached them,
// not one event later.
func (g *Gateway) TickSource(src broker.TickSource) broker.TickSource {
	return &sweepingSource{gw: g, src: src}
}

type sweepingSource struct {
	gw  *Gateway
	src broker.TickSource
}

func (s *sweepingSource) Next(ctx context.Context) (market.Tick, error) {
	tick, err := s.src.Next(ctx)
	if err != nil {
		return tick, err
	}
	s.gw.MarkTick(tick)
	return tick, nil
}

// Buy opens a long position at the requested price.
func (g *Gateway) Buy(_ context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	return g.submit(market.Buy, req), nil
}

// Sell opens a short position at the requested price.
func (g *Gateway) Sell(_ context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	return g.submit(market.Sell, req), nil
}

func (g *Gateway) submit(side market.Side, req broker.OrderRequest) broker.OrderResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Volume <= 0 || req.Volume+1e-9 < g.spec.VolumeMin ||
		(g.spec.VolumeMax > 0 && req.Volume > g.spec.VolumeMax+1e-9) {
		return broker.OrderResult{RetCode: broker.RetCodeInvalidVolume, Comment: "invalid volume"}
	}
	if req.Price <= 0 {
		return broker.OrderResult{RetCode: broker.RetCodeRejected, Comment: "invalid price"}
	}
	if !stopsValid(side, req) {
		return broker.OrderResult{RetCode: broker.RetCodeInvalidStops, Comment: "invalid stops"}
	}

	g.nextTicket++
	pos := &market.Position{
		Ticket:     g.nextTicket,
		Symbol:     req.Symbol,
		Side:       side,
		Volume:     req.Volume,
		OpenPrice:  req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   g.clock(),
	}
	g.positions[pos.Ticket] = pos

	g.logger.Info().
		Uint64("ticket", pos.Ticket).
		Str("side", side.String()).
		Float64("price", pos.OpenPrice).
		Float64("volume", pos.Volume).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Msg("paper fill")

	return broker.OrderResult{
		Success:   true,
		RetCode:   broker.RetCodeDone,
		Ticket:    pos.Ticket,
		FillPrice: pos.OpenPrice,
		Volume:    pos.Volume,
		Comment:   req.Comment,
	}
}

func stopsValid(side market.Side, req broker.OrderRequest) bool {
	if side == market.Buy {
		return (req.StopLoss == 0 || req.StopLoss < req.Price) &&
			(req.TakeProfit == 0 || req.TakeProfit > req.Price)
	}
	return (req.StopLoss == 0 || req.StopLoss > req.Price) &&
		(req.TakeProfit == 0 || req.TakeProfit < req.Price)
}

// ModifyPosition replaces the stop and target of an open position.
func (g *Gateway) ModifyPosition(_ context.Context, ticket uint64, stopLoss, takeProfit float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[ticket]
	if !ok {
		return broker.ErrPositionNotFound
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return nil
}

// ClosePosition closes at the current market quote.
func (g *Gateway) ClosePosition(_ context.Context, ticket uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[ticket]
	if !ok {
		return broker.ErrPositionNotFound
	}
	g.close(pos, g.marketClose(pos), CloseReasonManual)
	return nil
}

// OpenPositions lists open positions for the symbol, oldest ticket first.
func (g *Gateway) OpenPositions(_ context.Context, symbol string) ([]market.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]market.Position, 0, len(g.positions))
	for _, pos := range g.positions {
		if pos.Symbol == symbol {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// Snapshot reports balance plus floating profit as equity.
func (g *Gateway) Snapshot(context.Context) (market.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	equity := g.balance
	for _, pos := range g.positions {
		if g.lastTick.IsZero() {
			break
		}
		equity = equity.Add(g.pnl(*pos, g.marketClose(pos)))
	}
	return market.AccountSnapshot{Equity: equity, Currency: "USD"}, nil
}

// MarkTick updates the market and sweeps stops and targets. A quote through
// the stop fills at the stop price; the stop is checked before the target.
func (g *Gateway) MarkTick(tick market.Tick) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastTick = tick

	tickets := make([]uint64, 0, len(g.positions))
	for t := range g.positions {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })

	for _, t := range tickets {
		pos := g.positions[t]
		if price, reason, hit := sweep(*pos, tick); hit {
			g.close(pos, price, reason)
		}
	}
}

// sweep decides whether the quote triggers the position's stop or target.
func sweep(pos market.Position, tick market.Tick) (float64, string, bool) {
	if pos.Side == market.Buy {
		switch {
		case pos.StopLoss != 0 && tick.Bid <= pos.StopLoss:
			return pos.StopLoss, CloseReasonStopLoss, true
		case pos.TakeProfit != 0 && tick.Bid >= pos.TakeProfit:
			return pos.TakeProfit, CloseReasonTakeProfit, true
		}
		return 0, "", false
	}
	switch {
	case pos.StopLoss != 0 && tick.Ask >= pos.StopLoss:
		return pos.StopLoss, CloseReasonStopLoss, true
	case pos.TakeProfit != 0 && tick.Ask <= pos.TakeProfit:
		return pos.TakeProfit, CloseReasonTakeProfit, true
	}
	return 0, "", false
}

// close realizes the position at the given price. Callers hold the lock.
func (g *Gateway) close(pos *market.Position, price float64, reason string) {
	pnl := g.pnl(*pos, price)
	g.balance = g.balance.Add(pnl)
	delete(g.positions, pos.Ticket)

	trade := ClosedTrade{
		Ticket:     pos.Ticket,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Volume:     pos.Volume,
		OpenPrice:  pos.OpenPrice,
		ClosePrice: price,
		OpenTime:   pos.OpenTime,
		CloseTime:  g.clock(),
		PnL:        pnl,
		Reason:     reason,
	}
	g.closed = append(g.closed, trade)

	g.logger.Info().
		Uint64("ticket", trade.Ticket).
		Str("reason", reason).
		Float64("open", trade.OpenPrice).
		Float64("close", trade.ClosePrice).
		Str("pnl", pnl.StringFixed(2)).
		Msg("paper close")

	if g.bus != nil {
		pnlF, _ := pnl.Float64()
		g.bus.PublishTradeClosed(trade.Ticket, trade.Symbol, trade.OpenPrice, trade.ClosePrice, trade.Volume, pnlF)
	}
}

// pnl converts a price move into account currency via tick size and value.
func (g *Gateway) pnl(pos market.Position, closePrice float64) decimal.Decimal {
	if g.spec.TickSize <= 0 || g.spec.TickValue <= 0 {
		return decimal.Zero
	}
	move := closePrice - pos.OpenPrice
	if pos.Side == market.Sell {
		move = -move
	}
	return decimal.NewFromFloat(move).
		Div(decimal.NewFromFloat(g.spec.TickSize)).
		Mul(decimal.NewFromFloat(g.spec.TickValue)).
		Mul(decimal.NewFromFloat(pos.Volume))
}

// marketClose is the price a close at market would fill at right now.
func (g *Gateway) marketClose(pos *market.Position) float64 {
	if g.lastTick.IsZero() {
		return pos.OpenPrice
	}
	if pos.Side == market.Buy {
		return g.lastTick.Bid
	}
	return g.lastTick.Ask
}

func (g *Gateway) clock() time.Time {
	if g.lastTick.Time.IsZero() {
		return time.Now().UTC()
	}
	return g.lastTick.Time
}

// ClosedTrades returns a copy of the realized trade log.
func (g *Gateway) ClosedTrades() []ClosedTrade {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ClosedTrade, len(g.closed))
	copy(out, g.closed)
	return out
}

// SessionSummary aggregates the realized trades and the open book.
func (g *Gateway) SessionSummary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Summary{
		Trades:    len(g.closed),
		Balance:   g.balance,
		NetPnL:    decimal.Zero,
		OpenCount: len(g.positions),
	}
	for _, tr := range g.closed {
		s.NetPnL = s.NetPnL.Add(tr.PnL)
		if tr.PnL.IsPositive() {
			s.Wins++
		} else if tr.PnL.IsNegative() {
			s.Losses++
		}
	}
	return s
}
