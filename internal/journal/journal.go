// Package journal persists the engine's event stream to SQLite so a
// session can be reviewed after the fact. Journaling is best-effort: a
// failed insert is logged and dropped, never surfaced to the engine.
package journal

import (
	"database/sql"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"fib-trading-engine/internal/events"
)

// Recorder is the journaling interface the wiring code uses. Store and
// Noop implement it.
type Recorder interface {
	HandleEvent(ev events.Event)
	Close() error
}

// Noop is used when no journal path is configured or the database cannot
// be opened.
type Noop struct{}

func (Noop) HandleEvent(events.Event) {}
func (Noop) Close() error             { return nil }

// New opens a journal at path, falling back to a Noop when the path is
// empty or the database cannot be opened. The engine keeps trading either
// way.
func New(path string, logger zerolog.Logger) Recorder {
	if path == "" {
		return Noop{}
	}
	store, err := Open(path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("journal disabled, continuing without")
		return Noop{}
	}
	return store
}

// Attach subscribes the recorder to every event the bus publishes.
func Attach(bus *events.EventBus, r Recorder) {
	bus.SubscribeAll(r.HandleEvent)
}

// Store writes events into a SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

// Open creates or opens the SQLite database at path and runs the schema
// migration.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets an external reader inspect the journal while the engine
	// writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("journal opened")
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			signal_id   TEXT,
			symbol      TEXT,
			direction   TEXT,
			entry       REAL,
			stop_loss   REAL,
			take_profit REAL,
			volume      REAL,
			reason      TEXT,
			detail      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(timestamp)`,

		`CREATE TABLE IF NOT EXISTS rejections (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			symbol    TEXT,
			reason    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rejections_ts ON rejections(timestamp)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			ticket     INTEGER,
			symbol     TEXT,
			side       TEXT,
			fill_price REAL,
			volume     REAL,
			status     TEXT,
			ret_code   INTEGER,
			comment    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_ts ON orders(timestamp)`,

		`CREATE TABLE IF NOT EXISTS stop_updates (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			ticket    INTEGER,
			symbol    TEXT,
			old_stop  REAL,
			new_stop  REAL,
			reason    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_updates_ts ON stop_updates(timestamp)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			ticket      INTEGER,
			symbol      TEXT,
			open_price  REAL,
			close_price REAL,
			volume      REAL,
			pnl         REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}

// HandleEvent maps a bus event onto its journal table. Unhandled event
// types are ignored.
func (s *Store) HandleEvent(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	ts := ev.Timestamp.UTC().Unix()

	switch ev.Type {
	case events.EventSignalGenerated:
		_, err = s.db.Exec(`INSERT INTO signals
			(timestamp, signal_id, symbol, direction, entry, stop_loss, take_profit, volume, reason, detail)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			ts, text(ev.Data, "signal_id"), text(ev.Data, "symbol"), text(ev.Data, "direction"),
			num(ev.Data, "entry"), num(ev.Data, "stop_loss"), num(ev.Data, "take_profit"),
			num(ev.Data, "volume"), text(ev.Data, "reason"), detail(ev.Data),
		)
	case events.EventSignalRejected:
		_, err = s.db.Exec(`INSERT INTO rejections (timestamp, symbol, reason) VALUES (?,?,?)`,
			ts, text(ev.Data, "symbol"), text(ev.Data, "reason"),
		)
	case events.EventTradeOpened:
		_, err = s.db.Exec(`INSERT INTO orders
			(timestamp, ticket, symbol, side, fill_price, volume, status, ret_code, comment)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			ts, ticket(ev.Data), text(ev.Data, "symbol"), text(ev.Data, "side"),
			num(ev.Data, "fill_price"), num(ev.Data, "volume"), "filled", 0, "",
		)
	case events.EventOrderFailed:
		_, err = s.db.Exec(`INSERT INTO orders
			(timestamp, ticket, symbol, side, fill_price, volume, status, ret_code, comment)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			ts, 0, text(ev.Data, "symbol"), "", 0.0, 0.0, "failed",
			intval(ev.Data, "ret_code"), text(ev.Data, "comment"),
		)
	case events.EventStopUpdated:
		_, err = s.db.Exec(`INSERT INTO stop_updates
			(timestamp, ticket, symbol, old_stop, new_stop, reason)
			VALUES (?,?,?,?,?,?)`,
			ts, ticket(ev.Data), text(ev.Data, "symbol"),
			num(ev.Data, "old_stop"), num(ev.Data, "new_stop"), text(ev.Data, "reason"),
		)
	case events.EventTradeClosed:
		_, err = s.db.Exec(`INSERT INTO trades
			(timestamp, ticket, symbol, open_price, close_price, volume, pnl)
			VALUES (?,?,?,?,?,?,?)`,
			ts, ticket(ev.Data), text(ev.Data, "symbol"),
			num(ev.Data, "open_price"), num(ev.Data, "close_price"),
			num(ev.Data, "volume"), num(ev.Data, "pnl"),
		)
	default:
		return
	}

	if err != nil {
		s.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("journal insert failed")
	}
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.logger.Info().Msg("closing journal")
	return s.db.Close()
}

func text(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func num(data map[string]interface{}, key string) float64 {
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}

func intval(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func ticket(data map[string]interface{}) int64 {
	switch v := data["ticket"].(type) {
	case uint64:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func detail(data map[string]interface{}) string {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
