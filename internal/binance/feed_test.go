package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/indicator"
	"fib-trading-engine/internal/market"
)

// fakeExchange serves the three REST endpoints the feed touches and counts
// requests per endpoint.
type fakeExchange struct {
	srv *httptest.Server

	mu          sync.Mutex
	bars        []market.Bar // chronological
	failKlines  bool
	klineCalls  int
	infoCalls   int
	tickerCalls int
}

func newFakeExchange(t *testing.T, bars []market.Bar) *fakeExchange {
	t.Helper()
	ex := &fakeExchange{bars: bars}
	ex.srv = httptest.NewServer(http.HandlerFunc(ex.handle))
	t.Cleanup(ex.srv.Close)
	return ex
}

func (ex *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	switch r.URL.Path {
	case "/api/v3/klines":
		ex.klineCalls++
		if ex.failKlines {
			http.Error(w, `{"code":-1000,"msg":"down"}`, http.StatusInternalServerError)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		bars := ex.bars
		if limit > 0 && limit < len(bars) {
			bars = bars[len(bars)-limit:]
		}
		rows := make([]string, len(bars))
		for i, b := range bars {
			rows[i] = fmt.Sprintf(`[%d,"%.2f","%.2f","%.2f","%.2f","%.2f",%d,"0",0,"0","0","0"]`,
				b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume,
				b.Time.Add(15*time.Minute).UnixMilli()-1)
		}
		w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	case "/api/v3/exchangeInfo":
		ex.infoCalls++
		w.Write([]byte(exchangeInfoBody))
	case "/api/v3/ticker/bookTicker":
		ex.tickerCalls++
		w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"50000.10","askPrice":"50000.20"}`))
	default:
		http.NotFound(w, r)
	}
}

func (ex *fakeExchange) counts() (klines, info, ticker int) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.klineCalls, ex.infoCalls, ex.tickerCalls
}

// chronoFeedBars builds n 15-minute bars ending at head, oldest first.
func chronoFeedBars(n int, head time.Time) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		open := 2000.0 + 2.0*float64(i)
		bars[i] = market.Bar{
			Time:   head.Add(-time.Duration(n-1-i) * 15 * time.Minute),
			Open:   open,
			High:   open + 5,
			Low:    open - 3,
			Close:  open + 2,
			Volume: 100,
		}
	}
	return bars
}

func newTestFeed(t *testing.T, ex *fakeExchange, stream *TickStream) *Feed {
	t.Helper()
	return NewFeed(NewClient(ex.srv.URL, zerolog.Nop()), stream, "BTCUSDT", zerolog.Nop())
}

func TestFeedGetBarsNewestFirstAndCached(t *testing.T) {
	head := time.Now().UTC()
	ex := newFakeExchange(t, chronoFeedBars(10, head))
	feed := newTestFeed(t, ex, nil)
	ctx := context.Background()

	bars, err := feed.GetBars(ctx, "BTCUSDT", market.M15, 4)
	require.NoError(t, err)
	require.Len(t, bars, 4)

	assert.Equal(t, 2018.0, bars[0].Open)
	assert.Equal(t, 2016.0, bars[1].Open)
	assert.Equal(t, 2012.0, bars[3].Open)
	assert.True(t, bars[0].Time.After(bars[1].Time))
	assert.WithinDuration(t, head, bars[0].Time, time.Second)

	// Second read is served from the cache while the head bar is current.
	_, err = feed.GetBars(ctx, "BTCUSDT", market.M15, 4)
	require.NoError(t, err)
	klines, _, _ := ex.counts()
	assert.Equal(t, 1, klines)
}

func TestFeedRefetchesAgedCache(t *testing.T) {
	head := time.Now().UTC().Add(-30 * time.Minute)
	ex := newFakeExchange(t, chronoFeedBars(10, head))
	feed := newTestFeed(t, ex, nil)
	ctx := context.Background()

	_, err := feed.GetBars(ctx, "BTCUSDT", market.M15, 4)
	require.NoError(t, err)
	_, err = feed.GetBars(ctx, "BTCUSDT", market.M15, 4)
	require.NoError(t, err)

	klines, _, _ := ex.counts()
	assert.Equal(t, 2, klines)
}

func TestFeedInsufficientBars(t *testing.T) {
	ex := newFakeExchange(t, chronoFeedBars(3, time.Now().UTC()))
	feed := newTestFeed(t, ex, nil)

	_, err := feed.GetBars(context.Background(), "BTCUSDT", market.M15, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrInsufficientData))
}

func TestFeedUnknownSymbol(t *testing.T) {
	ex := newFakeExchange(t, chronoFeedBars(3, time.Now().UTC()))
	feed := newTestFeed(t, ex, nil)
	ctx := context.Background()

	_, err := feed.GetBars(ctx, "ETHUSDT", market.M15, 1)
	assert.True(t, errors.Is(err, broker.ErrUnknownSymbol))

	_, err = feed.GetIndicator(ctx, "ETHUSDT", broker.IndicatorSpec{Kind: broker.IndicatorEMA, Timeframe: market.M15, Period: 5}, 1)
	assert.True(t, errors.Is(err, broker.ErrUnknownSymbol))

	_, err = feed.GetTick(ctx, "ETHUSDT")
	assert.True(t, errors.Is(err, broker.ErrUnknownSymbol))

	_, err = feed.SymbolSpec(ctx, "ETHUSDT")
	assert.True(t, errors.Is(err, broker.ErrUnknownSymbol))
}

func TestFeedIndicatorMatchesDirectComputation(t *testing.T) {
	series := chronoFeedBars(60, time.Now().UTC())
	ex := newFakeExchange(t, series)
	feed := newTestFeed(t, ex, nil)
	ctx := context.Background()

	newestFirst := make([]market.Bar, len(series))
	for i, b := range series {
		newestFirst[len(series)-1-i] = b
	}

	const period, shift = 5, 1
	window := newestFirst[:4*period+shift+1]

	for _, kind := range []broker.IndicatorKind{broker.IndicatorEMA, broker.IndicatorRSI, broker.IndicatorATR} {
		got, err := feed.GetIndicator(ctx, "BTCUSDT", broker.IndicatorSpec{Kind: kind, Timeframe: market.M15, Period: period}, shift)
		require.NoError(t, err, "kind %s", kind)

		var want float64
		switch kind {
		case broker.IndicatorEMA:
			want, err = indicator.EMA(window, period, shift)
		case broker.IndicatorRSI:
			want, err = indicator.RSI(window, period, shift)
		case broker.IndicatorATR:
			want, err = indicator.ATR(window, period, shift)
		}
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, "kind %s", kind)
	}
}

func TestFeedIndicatorUnavailableOnFetchError(t *testing.T) {
	ex := newFakeExchange(t, nil)
	ex.failKlines = true
	feed := newTestFeed(t, ex, nil)

	_, err := feed.GetIndicator(context.Background(), "BTCUSDT",
		broker.IndicatorSpec{Kind: broker.IndicatorATR, Timeframe: market.M15, Period: 14}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrIndicatorUnavailable))
}

func TestFeedIndicatorRejectsUnknownKind(t *testing.T) {
	ex := newFakeExchange(t, chronoFeedBars(60, time.Now().UTC()))
	feed := newTestFeed(t, ex, nil)

	_, err := feed.GetIndicator(context.Background(), "BTCUSDT",
		broker.IndicatorSpec{Kind: broker.IndicatorKind("VWAP"), Timeframe: market.M15, Period: 5}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrIndicatorUnavailable))
}

func TestFeedTickPrefersStreamOverREST(t *testing.T) {
	ex := newFakeExchange(t, nil)
	stream := NewTickStream("", "BTCUSDT", zerolog.Nop())
	feed := newTestFeed(t, ex, stream)
	ctx := context.Background()

	// Before the stream delivers anything the REST book ticker backs the
	// quote.
	tick, err := feed.GetTick(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.10, tick.Bid)

	stream.handleMessage([]byte(`{"u":1,"s":"BTCUSDT","b":"50100.50","B":"2","a":"50100.60","A":"1"}`))

	tick, err = feed.GetTick(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50100.50, tick.Bid)
	assert.Equal(t, 50100.60, tick.Ask)

	_, _, ticker := ex.counts()
	assert.Equal(t, 1, ticker)
}

func TestFeedSymbolSpecFetchedOnce(t *testing.T) {
	ex := newFakeExchange(t, nil)
	feed := newTestFeed(t, ex, nil)
	ctx := context.Background()

	first, err := feed.SymbolSpec(ctx, "BTCUSDT")
	require.NoError(t, err)
	second, err := feed.SymbolSpec(ctx, "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0.01, first.TickSize)
	_, info, _ := ex.counts()
	assert.Equal(t, 1, info)
}
