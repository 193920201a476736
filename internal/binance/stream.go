package binance

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fib-trading-engine/internal/market"
)

// DefaultStreamURL is the Binance spot WebSocket endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443"

const (
	dialRetryWait = 5 * time.Second
	redialWait    = 3 * time.Second
)

// bookTickerEvent is the payload of the <symbol>@bookTicker stream.
type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// TickStream maintains a book ticker WebSocket subscription for one symbol
// and exposes the quotes both as shared state (Last) and as a pull source
// (Next). A dropped connection is redialed until the context ends.
//
// Next tracks which quote it already handed out, so the stream supports a
// single Next consumer.
type TickStream struct {
	url    string
	symbol string
	logger zerolog.Logger

	mu       sync.RWMutex
	lastTick market.Tick
	seq      uint64
	notify   chan struct{}

	delivered uint64 // read and written only by the Next consumer
}

// NewTickStream prepares a stream for the symbol. An empty baseURL selects
// the public endpoint. Run must be started for quotes to flow.
func NewTickStream(baseURL, symbol string, logger zerolog.Logger) *TickStream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &TickStream{
		url:    strings.TrimRight(baseURL, "/") + "/ws/" + strings.ToLower(symbol) + "@bookTicker",
		symbol: symbol,
		logger: logger.With().Str("component", "binance-stream").Str("symbol", symbol).Logger(),
		notify: make(chan struct{}),
	}
}

// Run dials the book ticker stream and keeps it alive until the context is
// cancelled, redialing after connection loss.
func (s *TickStream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("stream dial failed, retrying")
			if !sleepCtx(ctx, dialRetryWait) {
				return
			}
			continue
		}
		s.logger.Info().Str("url", s.url).Msg("stream connected")

		s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Msg("stream lost, reconnecting")
		if !sleepCtx(ctx, redialWait) {
			return
		}
	}
}

func (s *TickStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.logger.Info().Msg("stream closed by server")
			default:
				s.logger.Error().Err(err).Msg("stream read failed")
			}
			return
		}
		s.handleMessage(message)
	}
}

func (s *TickStream) handleMessage(message []byte) {
	var ev bookTickerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		s.logger.Warn().Err(err).Msg("unparseable stream message")
		return
	}
	bid, errBid := strconv.ParseFloat(ev.Bid, 64)
	ask, errAsk := strconv.ParseFloat(ev.Ask, 64)
	if errBid != nil || errAsk != nil || bid <= 0 || ask <= 0 {
		return
	}
	tick := market.Tick{Time: time.Now().UTC(), Bid: bid, Ask: ask, Last: bid}

	s.mu.Lock()
	s.lastTick = tick
	s.seq++
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Last returns the most recent quote, or a zero tick before the first
// update arrives.
func (s *TickStream) Last() market.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

// Next implements broker.TickSource. It blocks until a quote newer than the
// one returned by the previous call arrives, or the context ends.
func (s *TickStream) Next(ctx context.Context) (market.Tick, error) {
	for {
		s.mu.RLock()
		tick, seq, notify := s.lastTick, s.seq, s.notify
		s.mu.RUnlock()

		if seq > s.delivered {
			s.delivered = seq
			return tick, nil
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return market.Tick{}, ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
