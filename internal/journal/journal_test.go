package journal

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fib-trading-engine/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func (s *Store) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestStoreRecordsEventStream(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	Attach(bus, store)

	bus.PublishSignal("sig-1", "XAUUSD", "buy", "golden_zone+rsi", 2031.0, 1995.0, 2055.0, 0.02)
	bus.PublishSignalRejected("XAUUSD", "no trend")
	bus.PublishTradeOpened(42, "XAUUSD", "BUY", 2031.0, 0.02)
	bus.PublishStopUpdated(42, "XAUUSD", 1995.0, 2010.0, "trailing")
	bus.PublishTradeClosed(42, "XAUUSD", 2031.0, 2055.0, 0.02, 48.0)
	bus.PublishOrderFailed("XAUUSD", 10016, "invalid stops")

	assert.Equal(t, 1, store.countRows(t, "signals"))
	assert.Equal(t, 1, store.countRows(t, "rejections"))
	assert.Equal(t, 2, store.countRows(t, "orders"))
	assert.Equal(t, 1, store.countRows(t, "stop_updates"))
	assert.Equal(t, 1, store.countRows(t, "trades"))
}

func TestStoreRoundTripsSignalFields(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	Attach(bus, store)

	bus.PublishSignal("sig-7", "XAUUSD", "sell", "golden_zone+strong_close", 2031.0, 2060.0, 1990.0, 0.05)

	var (
		symbol, direction, reason, detail string
		entry, stopLoss, takeProfit, vol  float64
	)
	err := store.db.QueryRow(`SELECT symbol, direction, reason, entry, stop_loss, take_profit, volume, detail
		FROM signals WHERE signal_id = ?`, "sig-7").
		Scan(&symbol, &direction, &reason, &entry, &stopLoss, &takeProfit, &vol, &detail)
	require.NoError(t, err)

	assert.Equal(t, "XAUUSD", symbol)
	assert.Equal(t, "sell", direction)
	assert.Equal(t, "golden_zone+strong_close", reason)
	assert.Equal(t, 2031.0, entry)
	assert.Equal(t, 2060.0, stopLoss)
	assert.Equal(t, 1990.0, takeProfit)
	assert.Equal(t, 0.05, vol)
	assert.Contains(t, detail, `"entry"`)
}

func TestStoreRecordsFailedOrders(t *testing.T) {
	store := newTestStore(t)
	store.HandleEvent(events.Event{
		Type: events.EventOrderFailed,
		Data: map[string]interface{}{"symbol": "XAUUSD", "ret_code": 10006, "comment": "rejected"},
	})

	var status, comment string
	var retCode int
	err := store.db.QueryRow(`SELECT status, ret_code, comment FROM orders`).Scan(&status, &retCode, &comment)
	require.NoError(t, err)
	assert.Equal(t, "failed", status)
	assert.Equal(t, 10006, retCode)
	assert.Equal(t, "rejected", comment)
}

func TestStoreIgnoresUnrelatedEvents(t *testing.T) {
	store := newTestStore(t)
	store.HandleEvent(events.Event{Type: events.EventNewBar, Data: map[string]interface{}{"symbol": "XAUUSD"}})
	store.HandleEvent(events.Event{Type: events.EventType("SOMETHING_ELSE")})

	assert.Equal(t, 0, store.countRows(t, "signals"))
	assert.Equal(t, 0, store.countRows(t, "orders"))
}

func TestNewFallsBackToNoop(t *testing.T) {
	r := New("", zerolog.Nop())
	assert.IsType(t, Noop{}, r)

	// A directory is not a usable database file.
	r = New(t.TempDir(), zerolog.Nop())
	assert.IsType(t, Noop{}, r)

	assert.NotPanics(t, func() {
		r.HandleEvent(events.Event{Type: events.EventSignalGenerated})
		r.Close()
	})
}

func TestNewOpensStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	r := New(path, zerolog.Nop())
	defer r.Close()
	assert.IsType(t, &Store{}, r)
}
