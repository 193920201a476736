package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"fib-trading-engine/config"
	"fib-trading-engine/internal/binance"
	"fib-trading-engine/internal/broker"
	"fib-trading-engine/internal/engine"
	"fib-trading-engine/internal/events"
	"fib-trading-engine/internal/journal"
	"fib-trading-engine/internal/logging"
	"fib-trading-engine/internal/notification"
	"fib-trading-engine/internal/paper"
	"fib-trading-engine/internal/replay"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	samplePath := flag.String("generate-config", "", "write a sample config to this path and exit")
	flag.Parse()

	if *samplePath != "" {
		if err := config.GenerateSampleConfig(*samplePath); err != nil {
			fmt.Fprintf(os.Stderr, "generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample config written to %s\n", *samplePath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	logger.Info().
		Str("symbol", cfg.Engine.Symbol).
		Str("timeframe", cfg.Engine.Timeframe.String()).
		Str("feed", cfg.Feed.Source).
		Msg("starting fib trading engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	bus := events.NewEventBus()

	rec := journal.New(cfg.Journal.Path, logger)
	defer rec.Close()
	journal.Attach(bus, rec)

	if cfg.Notification.Enabled {
		manager := notification.NewManager(logger)
		if cfg.Notification.Telegram.Enabled {
			manager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.Notification.Telegram.BotToken,
				ChatID:   cfg.Notification.Telegram.ChatID,
				Enabled:  cfg.Notification.Telegram.Enabled,
			}))
			logger.Info().Msg("telegram notifications enabled")
		}
		if cfg.Notification.Discord.Enabled {
			manager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.Notification.Discord.WebhookURL,
				Enabled:    cfg.Notification.Discord.Enabled,
			}))
			logger.Info().Msg("discord notifications enabled")
		}
		notification.Attach(bus, manager)
	}

	feed, ticks, err := buildFeed(ctx, cfg, logger)
	if err != nil {
		return err
	}

	spec, err := feed.SymbolSpec(ctx, cfg.Engine.Symbol)
	if err != nil {
		return fmt.Errorf("resolve symbol %s: %w", cfg.Engine.Symbol, err)
	}

	gateway := paper.NewGateway(cfg.Paper.InitialBalance, spec, bus, logger)
	ctrl := engine.NewController(cfg.Engine, feed, gateway, gateway, bus, logger)

	runErr := engine.Run(ctx, gateway.TickSource(ticks), ctrl, logger)

	summary := gateway.SessionSummary()
	logger.Info().
		Int("trades", summary.Trades).
		Int("wins", summary.Wins).
		Int("losses", summary.Losses).
		Str("net_pnl", summary.NetPnL.StringFixed(2)).
		Str("balance", summary.Balance.StringFixed(2)).
		Int("open_positions", summary.OpenCount).
		Msg("session summary")

	return runErr
}

// buildFeed wires the configured market data source. The returned tick
// source is the raw feed; callers wrap it with the paper gateway so fills
// track the quotes the engine saw.
func buildFeed(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (broker.MarketDataFeed, broker.TickSource, error) {
	switch cfg.Feed.Source {
	case "binance":
		client := binance.NewClient(cfg.Feed.RESTURL, logger)
		stream := binance.NewTickStream(cfg.Feed.StreamURL, cfg.Engine.Symbol, logger)
		go stream.Run(ctx)
		feed := binance.NewFeed(client, stream, cfg.Engine.Symbol, logger)
		return feed, stream, nil

	case "replay":
		bars, err := replay.LoadBarsCSV(cfg.Feed.ReplayCSV)
		if err != nil {
			return nil, nil, fmt.Errorf("load replay bars: %w", err)
		}
		spec := cfg.Feed.ReplaySymbolSpec(cfg.Engine.Symbol)
		feed, err := replay.NewFeed(cfg.Engine.Symbol, cfg.Engine.Timeframe, spec, bars, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Int("bars", feed.Len()).Str("file", cfg.Feed.ReplayCSV).Msg("replay feed loaded")
		return feed, feed, nil

	default:
		return nil, nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}
