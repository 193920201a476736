// Package config loads and validates the engine configuration. Settings
// are layered: compiled defaults, then an optional JSON file, then
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"fib-trading-engine/internal/engine"
	"fib-trading-engine/internal/logging"
	"fib-trading-engine/internal/market"
)

// Config is the full engine configuration tree.
type Config struct {
	Engine       engine.Config      `json:"engine"`
	Feed         FeedConfig         `json:"feed"`
	Paper        PaperConfig        `json:"paper"`
	Journal      JournalConfig      `json:"journal"`
	Notification NotificationConfig `json:"notification"`
	Logging      logging.Config     `json:"logging"`
}

// FeedConfig selects where bars and quotes come from.
type FeedConfig struct {
	Source    string `json:"source" validate:"required,oneof=binance replay"`
	RESTURL   string `json:"rest_url"`   // empty selects the public endpoint
	StreamURL string `json:"stream_url"` // empty selects the public endpoint
	ReplayCSV string `json:"replay_csv"` // bar file for the replay source

	// ReplaySpec supplies the symbol geometry a recorded session cannot
	// query from an exchange. Zero fields fall back to defaults suited to
	// a two-decimal instrument.
	ReplaySpec market.SymbolSpec `json:"replay_spec"`
}

// ReplaySymbolSpec resolves the symbol spec for the replay feed, filling
// unset fields with workable defaults.
func (f FeedConfig) ReplaySymbolSpec(symbol string) market.SymbolSpec {
	spec := f.ReplaySpec
	if spec.Name == "" {
		spec.Name = symbol
	}
	if spec.Digits == 0 {
		spec.Digits = 2
	}
	if spec.Point <= 0 {
		spec.Point = 0.01
	}
	if spec.TickSize <= 0 {
		spec.TickSize = spec.Point
	}
	if spec.TickValue <= 0 {
		spec.TickValue = 1
	}
	if spec.VolumeMin <= 0 {
		spec.VolumeMin = 0.01
	}
	if spec.VolumeMax <= 0 {
		spec.VolumeMax = 100
	}
	if spec.VolumeStep <= 0 {
		spec.VolumeStep = 0.01
	}
	return spec
}

// PaperConfig sets up the simulated order gateway.
type PaperConfig struct {
	InitialBalance float64 `json:"initial_balance" validate:"gte=0"`
}

// JournalConfig points at the SQLite session journal. An empty path
// disables journaling.
type JournalConfig struct {
	Path string `json:"path"`
}

// NotificationConfig holds the outbound notification channels.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// Default returns the configuration the engine runs with when no file or
// environment overrides are present: paper trading against the public
// Binance feed.
func Default() *Config {
	return &Config{
		Engine: engine.DefaultConfig(),
		Feed: FeedConfig{
			Source: "binance",
		},
		Paper: PaperConfig{
			InitialBalance: 10000,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables override file values.
// A variable only takes effect when set.
func applyEnvOverrides(cfg *Config) {
	cfg.Engine.Symbol = getEnvOrDefault("ENGINE_SYMBOL", cfg.Engine.Symbol)
	if v := os.Getenv("ENGINE_TIMEFRAME"); v != "" {
		if tf, err := market.ParseTimeframe(v); err == nil {
			cfg.Engine.Timeframe = tf
		}
	}
	cfg.Engine.Sizer.RiskPercent = getEnvFloatOrDefault("RISK_PERCENT", cfg.Engine.Sizer.RiskPercent)

	cfg.Feed.Source = getEnvOrDefault("FEED_SOURCE", cfg.Feed.Source)
	cfg.Feed.RESTURL = getEnvOrDefault("FEED_REST_URL", cfg.Feed.RESTURL)
	cfg.Feed.StreamURL = getEnvOrDefault("FEED_STREAM_URL", cfg.Feed.StreamURL)
	cfg.Feed.ReplayCSV = getEnvOrDefault("FEED_REPLAY_CSV", cfg.Feed.ReplayCSV)

	cfg.Paper.InitialBalance = getEnvFloatOrDefault("PAPER_INITIAL_BALANCE", cfg.Paper.InitialBalance)
	cfg.Journal.Path = getEnvOrDefault("JOURNAL_PATH", cfg.Journal.Path)

	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		cfg.Notification.Enabled = v == "true"
	}
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		cfg.Notification.Telegram.Enabled = v == "true"
	}
	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)
	if v := os.Getenv("DISCORD_ENABLED"); v != "" {
		cfg.Notification.Discord.Enabled = v == "true"
	}
	cfg.Notification.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.Discord.WebhookURL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
}

var validate = validator.New()

// Validate checks tag constraints and the cross-field rules the engine
// depends on.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	eng := &c.Engine
	if eng.Symbol == "" {
		return fmt.Errorf("engine.symbol is required")
	}
	tf, err := market.ParseTimeframe(string(eng.Timeframe))
	if err != nil {
		return fmt.Errorf("engine.timeframe: %w", err)
	}
	eng.Timeframe = tf
	if eng.SwingStrength < 1 {
		return fmt.Errorf("engine.swing_strength must be at least 1, got %d", eng.SwingStrength)
	}
	if eng.SwingLookback <= 2*eng.SwingStrength {
		return fmt.Errorf("engine.swing_lookback %d must exceed twice the swing strength %d", eng.SwingLookback, eng.SwingStrength)
	}
	if eng.MaxSpreadPoints < 0 {
		return fmt.Errorf("engine.max_spread_points must not be negative")
	}
	if eng.ATRPeriod < 1 || eng.RSIPeriod < 1 {
		return fmt.Errorf("indicator periods must be at least 1")
	}
	if eng.UseEMAFilter && eng.EMAFastPeriod >= eng.EMASlowPeriod {
		return fmt.Errorf("engine.ema_fast_period %d must be below ema_slow_period %d", eng.EMAFastPeriod, eng.EMASlowPeriod)
	}

	pipe := &eng.Pipeline
	if pipe.ZoneToleranceFactor <= 0 {
		return fmt.Errorf("pipeline.zone_tolerance_factor must be positive")
	}
	if pipe.SLBufferFactor <= 0 || pipe.TPBufferFactor <= 0 {
		return fmt.Errorf("pipeline stop and target buffers must be positive")
	}
	if pipe.UseRSIFilter {
		if pipe.RSIOversold <= 0 || pipe.RSIOverbought >= 100 || pipe.RSIOversold >= pipe.RSIOverbought {
			return fmt.Errorf("pipeline rsi bounds must satisfy 0 < oversold < overbought < 100")
		}
	}
	if pipe.UseMTFFilter {
		if len(eng.MTF.Timeframes) == 0 {
			return fmt.Errorf("mtf filter enabled but no timeframes configured")
		}
		for i, raw := range eng.MTF.Timeframes {
			mtf, err := market.ParseTimeframe(string(raw))
			if err != nil {
				return fmt.Errorf("mtf.timeframes[%d]: %w", i, err)
			}
			eng.MTF.Timeframes[i] = mtf
		}
		if pipe.MTFMinAgreement < 1 {
			return fmt.Errorf("pipeline.mtf_min_agreement must be at least 1")
		}
		if eng.MTF.FastPeriod >= eng.MTF.SlowPeriod {
			return fmt.Errorf("mtf.fast_period %d must be below mtf.slow_period %d", eng.MTF.FastPeriod, eng.MTF.SlowPeriod)
		}
	}

	if eng.Sizer.FixedLot < 0 {
		return fmt.Errorf("sizer.fixed_lot must not be negative")
	}
	if eng.Sizer.FixedLot == 0 && (eng.Sizer.RiskPercent <= 0 || eng.Sizer.RiskPercent > 100) {
		return fmt.Errorf("sizer.risk_percent %.2f must be in (0, 100]", eng.Sizer.RiskPercent)
	}

	mgr := &eng.Manager
	if mgr.UseBreakEven && mgr.BreakEvenTriggerATR <= 0 {
		return fmt.Errorf("manager.break_even_trigger_atr must be positive when break-even is enabled")
	}
	if mgr.UseTrailing && (mgr.TrailingStartATR <= 0 || mgr.TrailingStepATR <= 0) {
		return fmt.Errorf("manager trailing thresholds must be positive when trailing is enabled")
	}

	if c.Feed.Source == "replay" && c.Feed.ReplayCSV == "" {
		return fmt.Errorf("feed.replay_csv is required when feed.source is replay")
	}
	return nil
}

// GenerateSampleConfig writes a commented starting point for a new
// deployment.
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.Journal.Path = "fib-engine.db"
	cfg.Feed.ReplayCSV = "bars.csv"
	cfg.Notification.Telegram.BotToken = "your_bot_token_here"
	cfg.Notification.Telegram.ChatID = "your_chat_id_here"
	cfg.Notification.Discord.WebhookURL = "https://discord.com/api/webhooks/..."

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
