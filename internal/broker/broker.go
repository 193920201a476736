// Package broker defines the collaborator interfaces the engine trades
// through: a market data feed, an order gateway and an account reader.
// Implementations live in internal/binance, internal/replay and
// internal/paper.
package broker

import (
	"context"
	"errors"

	"fib-trading-engine/internal/market"
)

// Sentinel errors for the abstain taxonomy. Callers match with errors.Is.
var (
	// ErrInsufficientData means the feed holds fewer bars than requested.
	ErrInsufficientData = errors.New("insufficient bar data")
	// ErrIndicatorUnavailable means an indicator series cannot be computed.
	ErrIndicatorUnavailable = errors.New("indicator unavailable")
	// ErrNoTick means no quote has been received yet.
	ErrNoTick = errors.New("no tick available")
	// ErrPositionNotFound means the ticket does not match an open position.
	ErrPositionNotFound = errors.New("position not found")
	// ErrStreamDone means a tick source is exhausted.
	ErrStreamDone = errors.New("tick stream done")
	// ErrUnknownSymbol means the feed does not serve the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// IndicatorKind selects the series GetIndicator computes.
type IndicatorKind string

const (
	IndicatorEMA IndicatorKind = "EMA"
	IndicatorRSI IndicatorKind = "RSI"
	IndicatorATR IndicatorKind = "ATR"
)

// IndicatorSpec names one indicator series on one timeframe.
type IndicatorSpec struct {
	Kind      IndicatorKind
	Timeframe market.Timeframe
	Period    int
}

// MarketDataFeed supplies bars, derived indicator values and live quotes.
// Bars are returned most-recent-first.
type MarketDataFeed interface {
	// GetBars returns exactly count bars, newest first, or
	// ErrInsufficientData when the feed has fewer.
	GetBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error)
	// GetIndicator returns the indicator value at the given shift
	// (0 = forming bar, 1 = last closed bar), or ErrIndicatorUnavailable.
	GetIndicator(ctx context.Context, symbol string, spec IndicatorSpec, shift int) (float64, error)
	// GetTick returns the most recent top-of-book quote.
	GetTick(ctx context.Context, symbol string) (market.Tick, error)
	// SymbolSpec returns the broker constraints for the symbol.
	SymbolSpec(ctx context.Context, symbol string) (market.SymbolSpec, error)
}

// OrderRequest is a market order submission. Price is the expected fill
// price: the ask for buys, the bid for sells.
type OrderRequest struct {
	Symbol     string
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// Gateway return codes. The values follow the MetaTrader trade server
// convention: 10009 is a completed deal.
const (
	RetCodeDone          = 10009
	RetCodeRejected      = 10006
	RetCodeInvalidVolume = 10014
	RetCodeInvalidStops  = 10016
)

// OrderResult reports the gateway's response to a submission. Success false
// with a zero error is an orderly rejection; the retcode says why.
type OrderResult struct {
	Success   bool
	RetCode   int
	Ticket    uint64
	FillPrice float64
	Volume    float64
	Comment   string
}

// OrderGateway executes and manages positions. Calls are synchronous
// request/response; the engine never pipelines requests and never retries a
// failed submission within the same bar.
type OrderGateway interface {
	Buy(ctx context.Context, req OrderRequest) (OrderResult, error)
	Sell(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyPosition(ctx context.Context, ticket uint64, stopLoss, takeProfit float64) error
	ClosePosition(ctx context.Context, ticket uint64) error
	OpenPositions(ctx context.Context, symbol string) ([]market.Position, error)
}

// AccountInfo reads the account state used for sizing.
type AccountInfo interface {
	Snapshot(ctx context.Context) (market.AccountSnapshot, error)
}

// TickSource feeds the engine's pull loop. Next blocks until the next quote
// is available and returns ErrStreamDone when the source is exhausted.
type TickSource interface {
	Next(ctx context.Context) (market.Tick, error)
}
