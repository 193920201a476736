// Package market defines the price, symbol and position types shared by the
// trading engine and its feed/gateway adapters.
package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe identifies a bar period.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
	MN1 Timeframe = "MN1"
)

var timeframeMinutes = map[Timeframe]int{
	M1:  1,
	M5:  5,
	M15: 15,
	M30: 30,
	H1:  60,
	H4:  240,
	D1:  1440,
	W1:  10080,
	MN1: 43200,
}

// ParseTimeframe converts a config string such as "M15" or "h1" into a
// Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := timeframeMinutes[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Minutes returns the bar period in minutes.
func (tf Timeframe) Minutes() int { return timeframeMinutes[tf] }

// Duration returns the bar period as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeMinutes[tf]) * time.Minute
}

func (tf Timeframe) String() string { return string(tf) }

// Bar is a single OHLCV candle. Bar slices handled by the engine are ordered
// most-recent-first: index 0 is the newest bar, matching shift-style
// indexing where shift 1 is the last closed bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Range returns the high-to-low distance.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-to-close distance.
func (b Bar) Body() float64 { return math.Abs(b.Close - b.Open) }

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool { return b.Close < b.Open }

// UpperWick returns the distance from the body top to the high.
func (b Bar) UpperWick() float64 { return b.High - math.Max(b.Open, b.Close) }

// LowerWick returns the distance from the body bottom to the low.
func (b Bar) LowerWick() float64 { return math.Min(b.Open, b.Close) - b.Low }

// Midpoint returns the middle of the bar's range.
func (b Bar) Midpoint() float64 { return (b.High + b.Low) / 2 }

// Tick is a single top-of-book quote.
type Tick struct {
	Time time.Time `json:"time"`
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Last float64   `json:"last"`
}

// IsZero reports whether the tick carries no quote.
func (t Tick) IsZero() bool { return t.Bid == 0 && t.Ask == 0 }

// Mid returns the quote midpoint.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// SymbolSpec carries the broker constraints for one instrument. The feed
// supplies it and the engine treats it as read-only.
type SymbolSpec struct {
	Name         string  `json:"name"`
	Digits       int     `json:"digits"`
	Point        float64 `json:"point"`
	TickSize     float64 `json:"tick_size"`
	TickValue    float64 `json:"tick_value"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
	SpreadPoints int     `json:"spread"`
}

// SpreadPointsAt derives the spread in points from a live quote. It falls
// back to the static spec value when the quote or point size is unusable.
func (s SymbolSpec) SpreadPointsAt(t Tick) int {
	if s.Point <= 0 || t.IsZero() || t.Ask < t.Bid {
		return s.SpreadPoints
	}
	return int(math.Round((t.Ask - t.Bid) / s.Point))
}

// Side is the direction of an order or position.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Position is an open position as reported by the order gateway. A StopLoss
// or TakeProfit of 0 means the level is not set. The gateway owns position
// state; the engine only reads it and requests modifications.
type Position struct {
	Ticket     uint64    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenTime   time.Time `json:"open_time"`
}

// AccountSnapshot is the account state read for position sizing.
type AccountSnapshot struct {
	Equity   decimal.Decimal `json:"equity"`
	Currency string          `json:"currency"`
}
