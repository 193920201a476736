package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/events"
	"fib-trading-engine/internal/market"
)

func paperSpec() market.SymbolSpec {
	return market.SymbolSpec{
		Name:       "XAUUSD",
		Digits:     2,
		Point:      0.01,
		TickSize:   0.01,
		TickValue:  1,
		VolumeMin:  0.01,
		VolumeMax:  100,
		VolumeStep: 0.01,
	}
}

func newTestGateway() *Gateway {
	return NewGateway(10000, paperSpec(), nil, zerolog.Nop())
}

func buyReq(volume, price, sl, tp float64) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol: "XAUUSD", Volume: volume, Price: price,
		StopLoss: sl, TakeProfit: tp, Comment: "fib-engine",
	}
}

func tickQuote(bid, ask float64) market.Tick {
	return market.Tick{Time: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), Bid: bid, Ask: ask}
}

func TestBuyFillsAndLists(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, broker.RetCodeDone, res.RetCode)
	assert.Equal(t, uint64(1), res.Ticket)
	assert.Equal(t, 2031.0, res.FillPrice)
	assert.Equal(t, 0.1, res.Volume)

	positions, err := g.OpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, market.Buy, positions[0].Side)
	assert.Equal(t, 1995.0, positions[0].StopLoss)
	assert.Equal(t, 2055.0, positions[0].TakeProfit)

	other, err := g.OpenPositions(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSubmitValidation(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	cases := []struct {
		name    string
		req     broker.OrderRequest
		retCode int
	}{
		{"zero volume", buyReq(0, 2031, 0, 0), broker.RetCodeInvalidVolume},
		{"below minimum", buyReq(0.005, 2031, 0, 0), broker.RetCodeInvalidVolume},
		{"above maximum", buyReq(150, 2031, 0, 0), broker.RetCodeInvalidVolume},
		{"zero price", buyReq(0.1, 0, 0, 0), broker.RetCodeRejected},
		{"buy stop above price", buyReq(0.1, 2031, 2055, 0), broker.RetCodeInvalidStops},
		{"buy target below price", buyReq(0.1, 2031, 0, 1995), broker.RetCodeInvalidStops},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Buy(ctx, tc.req)
			require.NoError(t, err, "orderly rejection, not an error")
			assert.False(t, res.Success)
			assert.Equal(t, tc.retCode, res.RetCode)
		})
	}

	res, err := g.Sell(ctx, buyReq(0.1, 2030, 1995, 0))
	require.NoError(t, err)
	assert.False(t, res.Success, "sell stop must sit above the price")
	assert.Equal(t, broker.RetCodeInvalidStops, res.RetCode)

	positions, err := g.OpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Empty(t, positions, "rejected orders open nothing")
}

func TestModifyPosition(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)

	require.NoError(t, g.ModifyPosition(ctx, res.Ticket, 2010, 2055))
	positions, err := g.OpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 2010.0, positions[0].StopLoss)

	err = g.ModifyPosition(ctx, 999, 2010, 2055)
	assert.ErrorIs(t, err, broker.ErrPositionNotFound)
}

func TestStopSweepLong(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	_, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)

	g.MarkTick(tickQuote(1994.0, 1994.2))

	positions, err := g.OpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades := g.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, CloseReasonStopLoss, trades[0].Reason)
	assert.Equal(t, 1995.0, trades[0].ClosePrice, "fills at the stop, not the quote")
	assert.Equal(t, "-360", trades[0].PnL.String())

	sum := g.SessionSummary()
	assert.Equal(t, "9640", sum.Balance.String())
	assert.Equal(t, 1, sum.Losses)
}

func TestTargetSweepLong(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	_, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)

	g.MarkTick(tickQuote(2056.0, 2056.2))

	trades := g.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, CloseReasonTakeProfit, trades[0].Reason)
	assert.Equal(t, 2055.0, trades[0].ClosePrice)
	assert.Equal(t, "240", trades[0].PnL.String())
	assert.Equal(t, "10240", g.SessionSummary().Balance.String())
}

func TestStopSweepShort(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res, err := g.Sell(ctx, buyReq(0.1, 2030, 2055, 1995))
	require.NoError(t, err)
	require.True(t, res.Success)

	// Shorts are stopped on the ask side.
	g.MarkTick(tickQuote(2055.8, 2056.0))

	trades := g.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, CloseReasonStopLoss, trades[0].Reason)
	assert.Equal(t, 2055.0, trades[0].ClosePrice)
	assert.Equal(t, "-250", trades[0].PnL.String())
}

func TestSnapshotEquityIncludesFloatingProfit(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	_, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)
	g.MarkTick(tickQuote(2041.0, 2041.2))

	snap, err := g.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10100", snap.Equity.String(), "10 dollars of float on 0.1 lots")

	sum := g.SessionSummary()
	assert.Equal(t, "10000", sum.Balance.String(), "nothing realized yet")
	assert.Equal(t, 1, sum.OpenCount)
}

func TestManualClose(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)
	g.MarkTick(tickQuote(2041.0, 2041.2))

	require.NoError(t, g.ClosePosition(ctx, res.Ticket))

	trades := g.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, CloseReasonManual, trades[0].Reason)
	assert.Equal(t, 2041.0, trades[0].ClosePrice, "longs close on the bid")
	assert.Equal(t, "100", trades[0].PnL.String())

	assert.ErrorIs(t, g.ClosePosition(ctx, res.Ticket), broker.ErrPositionNotFound)
}

func TestSweepPublishesTradeClosed(t *testing.T) {
	bus := events.NewEventBus()
	var got []events.Event
	bus.SubscribeAll(func(e events.Event) { got = append(got, e) })

	g := NewGateway(10000, paperSpec(), bus, zerolog.Nop())
	_, err := g.Buy(context.Background(), buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)

	g.MarkTick(tickQuote(1994.0, 1994.2))

	require.Len(t, got, 1)
	assert.Equal(t, events.EventTradeClosed, got[0].Type)
	assert.Equal(t, -360.0, got[0].Data["pnl"])
}

func TestTickSourceSweepsBeforeDelivery(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	_, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)

	src := g.TickSource(&sliceSource{ticks: []market.Tick{tickQuote(1994.0, 1994.2)}})
	tick, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1994.0, tick.Bid)

	positions, err := g.OpenPositions(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Empty(t, positions, "stop swept before the engine sees the tick")

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, broker.ErrStreamDone)
}

func TestSessionSummaryAggregates(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	_, err := g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)
	g.MarkTick(tickQuote(2056.0, 2056.2)) // +240

	_, err = g.Buy(ctx, buyReq(0.1, 2031, 1995, 2055))
	require.NoError(t, err)
	g.MarkTick(tickQuote(1994.0, 1994.2)) // -360

	sum := g.SessionSummary()
	assert.Equal(t, 2, sum.Trades)
	assert.Equal(t, 1, sum.Wins)
	assert.Equal(t, 1, sum.Losses)
	assert.Equal(t, "-120", sum.NetPnL.String())
	assert.Equal(t, "9880", sum.Balance.String())
	assert.Equal(t, 0, sum.OpenCount)
}

type sliceSource struct {
	ticks []market.Tick
	i     int
}

func (s *sliceSource) Next(context.Context) (market.Tick, error) {
	if s.i >= len(s.ticks) {
		return market.Tick{}, broker.ErrStreamDone
	}
	t := s.ticks[s.i]
	s.i++
	return t, nil
}
