// Package binance adapts the Binance spot REST and WebSocket APIs to the
// feed interfaces in internal/broker. The Feed serves bars from a
// per-timeframe kline cache, computes indicator values locally and reads
// live quotes from a book ticker stream.
package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/market"
)

// DefaultBaseURL is the Binance spot REST endpoint.
const DefaultBaseURL = "https://api.binance.com"

var intervals = map[market.Timeframe]string{
	market.M1:  "1m",
	market.M5:  "5m",
	market.M15: "15m",
	market.M30: "30m",
	market.H1:  "1h",
	market.H4:  "4h",
	market.D1:  "1d",
	market.W1:  "1w",
	market.MN1: "1M",
}

// Interval maps a timeframe onto the Binance kline interval string.
func Interval(tf market.Timeframe) (string, error) {
	iv, ok := intervals[tf]
	if !ok {
		return "", fmt.Errorf("no binance interval for timeframe %s", tf)
	}
	return iv, nil
}

// Client is a thin Binance spot REST client covering the market data
// endpoints the feed needs. All calls are unauthenticated.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a REST client. An empty baseURL selects the public
// endpoint.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "binance-client").Logger(),
	}
}

// GetKlines fetches up to limit candles for the symbol and timeframe,
// oldest first as Binance returns them. The forming candle is the final
// element.
func (c *Client) GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	interval, err := Interval(tf)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d", c.baseURL, symbol, interval, limit)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	bars := make([]market.Bar, 0, len(raw))
	for i, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("kline row %d has %d fields, want at least 6", i, len(k))
		}
		openTime, ok := k[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline row %d: open time is not a number", i)
		}
		bars = append(bars, market.Bar{
			Time:   time.UnixMilli(int64(openTime)).UTC(),
			Open:   parseFloat(k[1]),
			High:   parseFloat(k[2]),
			Low:    parseFloat(k[3]),
			Close:  parseFloat(k[4]),
			Volume: parseFloat(k[5]),
		})
	}
	return bars, nil
}

// bookTicker is the /api/v3/ticker/bookTicker response.
type bookTicker struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bidPrice"`
	Ask    string `json:"askPrice"`
}

// GetBookTicker fetches the current top-of-book quote over REST.
func (c *Client) GetBookTicker(ctx context.Context, symbol string) (market.Tick, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/bookTicker?symbol=%s", c.baseURL, symbol)
	body, err := c.get(ctx, url)
	if err != nil {
		return market.Tick{}, err
	}

	var bt bookTicker
	if err := json.Unmarshal(body, &bt); err != nil {
		return market.Tick{}, fmt.Errorf("parse book ticker: %w", err)
	}
	bid, err := strconv.ParseFloat(bt.Bid, 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("parse bid %q: %w", bt.Bid, err)
	}
	ask, err := strconv.ParseFloat(bt.Ask, 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("parse ask %q: %w", bt.Ask, err)
	}
	return market.Tick{Time: time.Now().UTC(), Bid: bid, Ask: ask, Last: bid}, nil
}

// exchangeInfo carries the subset of /api/v3/exchangeInfo that SymbolSpec
// reads.
type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			MinQty     string `json:"minQty"`
			MaxQty     string `json:"maxQty"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// SymbolSpec derives the engine's symbol constraints from the exchange
// filters: PRICE_FILTER fixes the tick size and digits, LOT_SIZE the volume
// bounds. Spot quantities are quoted per unit, so the tick value equals the
// tick size.
func (c *Client) SymbolSpec(ctx context.Context, symbol string) (market.SymbolSpec, error) {
	url := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", c.baseURL, symbol)
	body, err := c.get(ctx, url)
	if err != nil {
		return market.SymbolSpec{}, err
	}

	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return market.SymbolSpec{}, fmt.Errorf("parse exchange info: %w", err)
	}
	if len(info.Symbols) == 0 {
		return market.SymbolSpec{}, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	sym := info.Symbols[0]
	if sym.Status != "" && sym.Status != "TRADING" {
		c.logger.Warn().Str("symbol", symbol).Str("status", sym.Status).Msg("symbol not in trading status")
	}

	spec := market.SymbolSpec{Name: sym.Symbol}
	for _, f := range sym.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			ts, err := strconv.ParseFloat(f.TickSize, 64)
			if err != nil || ts <= 0 {
				return market.SymbolSpec{}, fmt.Errorf("bad tick size %q for %s", f.TickSize, symbol)
			}
			spec.TickSize = ts
			spec.Point = ts
			spec.Digits = decimalsOf(f.TickSize)
		case "LOT_SIZE":
			spec.VolumeMin = parseFilterValue(f.MinQty)
			spec.VolumeMax = parseFilterValue(f.MaxQty)
			spec.VolumeStep = parseFilterValue(f.StepSize)
		}
	}
	if spec.TickSize <= 0 {
		return market.SymbolSpec{}, fmt.Errorf("exchange info for %s has no price filter", symbol)
	}
	spec.TickValue = spec.TickSize
	return spec, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// parseFloat reads a kline array field, which Binance serves as a numeric
// string.
func parseFloat(v interface{}) float64 {
	switch x := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case float64:
		return x
	default:
		return 0
	}
}

func parseFilterValue(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// decimalsOf counts the significant decimal places in a filter value such
// as "0.01000000".
func decimalsOf(s string) int {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(strings.TrimRight(s[dot+1:], "0"))
}
