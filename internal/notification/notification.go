// Package notification pushes engine events to external channels such as
// Telegram and Discord. Delivery is best-effort and runs off the event bus
// so a slow channel never stalls a tick.
package notification

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"fib-trading-engine/internal/events"
)

// Type classifies a notification.
type Type string

const (
	NotifySignal     Type = "signal"
	NotifyTradeOpen  Type = "trade_open"
	NotifyTradeClose Type = "trade_close"
	NotifyError      Type = "error"
)

// Notification is one message for the channels to render.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Symbol    string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Notifier is one delivery channel.
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans a notification out to every enabled channel.
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewManager creates an empty manager; channels are added with AddNotifier.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "notification").Logger(),
	}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers the notification to all enabled channels and returns the
// last error seen.
func (m *Manager) Send(n *Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().Err(err).Str("channel", notifier.Name()).Msg("notification failed")
			lastErr = err
		}
	}
	return lastErr
}

// SendSignal announces a generated entry signal.
func (m *Manager) SendSignal(symbol, side, reason string, entry, stopLoss, takeProfit, volume float64) error {
	emoji := "🟢"
	if side == "SELL" {
		emoji = "🔴"
	}
	return m.Send(&Notification{
		Type:      NotifySignal,
		Title:     fmt.Sprintf("%s Signal: %s", emoji, symbol),
		Message:   fmt.Sprintf("%s %s @ %.4f\nSL: %.4f | TP: %.4f\nVolume: %.2f\nReason: %s", side, symbol, entry, stopLoss, takeProfit, volume, reason),
		Symbol:    symbol,
		Price:     entry,
		Timestamp: time.Now(),
	})
}

// SendTradeOpen announces a filled entry.
func (m *Manager) SendTradeOpen(symbol, side string, ticket uint64, price, volume float64) error {
	return m.Send(&Notification{
		Type:      NotifyTradeOpen,
		Title:     fmt.Sprintf("📈 Trade Opened: %s", symbol),
		Message:   fmt.Sprintf("%s %s #%d\nPrice: %.4f\nVolume: %.2f", side, symbol, ticket, price, volume),
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
	})
}

// SendTradeClose announces a closed position with its realized result.
func (m *Manager) SendTradeClose(symbol string, ticket uint64, openPrice, closePrice, pnl float64) error {
	emoji := "✅"
	if pnl < 0 {
		emoji = "❌"
	}
	return m.Send(&Notification{
		Type:      NotifyTradeClose,
		Title:     fmt.Sprintf("%s Trade Closed: %s", emoji, symbol),
		Message:   fmt.Sprintf("#%d Entry: %.4f → Exit: %.4f\nP&L: %.2f", ticket, openPrice, closePrice, pnl),
		Symbol:    symbol,
		Price:     closePrice,
		PnL:       pnl,
		Timestamp: time.Now(),
	})
}

// SendError announces an order failure or engine error.
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Attach subscribes the manager to the event bus. Deliveries run in their
// own goroutine because bus subscribers must not block.
func Attach(bus *events.EventBus, m *Manager) {
	bus.Subscribe(events.EventSignalGenerated, func(ev events.Event) {
		go m.SendSignal(
			text(ev.Data, "symbol"), text(ev.Data, "direction"), text(ev.Data, "reason"),
			num(ev.Data, "entry"), num(ev.Data, "stop_loss"), num(ev.Data, "take_profit"), num(ev.Data, "volume"),
		)
	})
	bus.Subscribe(events.EventTradeOpened, func(ev events.Event) {
		go m.SendTradeOpen(
			text(ev.Data, "symbol"), text(ev.Data, "side"), ticket(ev.Data),
			num(ev.Data, "fill_price"), num(ev.Data, "volume"),
		)
	})
	bus.Subscribe(events.EventTradeClosed, func(ev events.Event) {
		go m.SendTradeClose(
			text(ev.Data, "symbol"), ticket(ev.Data),
			num(ev.Data, "open_price"), num(ev.Data, "close_price"), num(ev.Data, "pnl"),
		)
	})
	bus.Subscribe(events.EventOrderFailed, func(ev events.Event) {
		go m.SendError(
			fmt.Sprintf("Order Failed: %s", text(ev.Data, "symbol")),
			fmt.Sprintf("retcode %d: %s", intval(ev.Data, "ret_code"), text(ev.Data, "comment")),
		)
	})
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

func ticket(data map[string]interface{}) uint64 {
	switch v := data["ticket"].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case float64:
		return uint64(v)
	default:
		return 0
	}
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// DefaultTelegramAPI is the Telegram bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds the Telegram channel settings. An empty BaseURL
// selects the public API.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Enabled  bool
}

// TelegramNotifier sends messages through the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram channel. It stays disabled when
// the token or chat id is missing.
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		baseURL:  baseURL,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordConfig holds the Discord webhook settings.
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// DiscordNotifier posts embeds to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier creates a Discord channel. It stays disabled when the
// webhook URL is missing.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(n *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	if n.Type == NotifyError || (n.Type == NotifyTradeClose && n.PnL < 0) {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}
	if n.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": n.Symbol, "inline": true},
		}
		if n.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.4f", n.Price), "inline": true,
			})
		}
		if n.PnL != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "P&L", "value": fmt.Sprintf("%.2f", n.PnL), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	body, err := json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
