package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fib-trading-engine/config"
	"fib-trading-engine/internal/engine"
	"fib-trading-engine/internal/events"
	"fib-trading-engine/internal/journal"
	"fib-trading-engine/internal/logging"
	"fib-trading-engine/internal/market"
	"fib-trading-engine/internal/paper"
	"fib-trading-engine/internal/replay"
)

// Replays a recorded bar file through the full engine and reports the
// paper session result. Two runs over the same file produce the same
// trades, which makes this the reference harness for strategy changes.
func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	barsPath := flag.String("bars", "", "CSV bar file to replay (overrides feed.replay_csv)")
	symbol := flag.String("symbol", "", "symbol override")
	timeframe := flag.String("tf", "", "timeframe override, e.g. M15")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	cfg.Feed.Source = "replay"
	if *barsPath != "" {
		cfg.Feed.ReplayCSV = *barsPath
	}
	if *symbol != "" {
		cfg.Engine.Symbol = *symbol
	}
	if *timeframe != "" {
		tf, err := market.ParseTimeframe(*timeframe)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad -tf value: %v\n", err)
			os.Exit(1)
		}
		cfg.Engine.Timeframe = tf
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	bars, err := replay.LoadBarsCSV(cfg.Feed.ReplayCSV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bars: %v\n", err)
		os.Exit(1)
	}

	spec := cfg.Feed.ReplaySymbolSpec(cfg.Engine.Symbol)
	feed, err := replay.NewFeed(cfg.Engine.Symbol, cfg.Engine.Timeframe, spec, bars, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build feed: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewEventBus()
	rec := journal.New(cfg.Journal.Path, logger)
	defer rec.Close()
	journal.Attach(bus, rec)

	gateway := paper.NewGateway(cfg.Paper.InitialBalance, spec, bus, logger)
	ctrl := engine.NewController(cfg.Engine, feed, gateway, gateway, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx, gateway.TickSource(feed), ctrl, logger); err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}

	printSummary(cfg, feed.Len(), gateway.SessionSummary())
}

func printSummary(cfg *config.Config, barCount int, s paper.Summary) {
	line := strings.Repeat("=", 56)

	fmt.Println(line)
	fmt.Printf("  REPLAY SUMMARY  %s %s\n", cfg.Engine.Symbol, cfg.Engine.Timeframe)
	fmt.Println(line)
	fmt.Printf("  Bars replayed:  %d\n", barCount)
	fmt.Printf("  Trades closed:  %d\n", s.Trades)
	fmt.Printf("  Wins / losses:  %d / %d\n", s.Wins, s.Losses)
	if s.Trades > 0 {
		fmt.Printf("  Win rate:       %.1f%%\n", float64(s.Wins)/float64(s.Trades)*100)
	}
	fmt.Printf("  Net P&L:        %s\n", s.NetPnL.StringFixed(2))
	fmt.Printf("  Final balance:  %s\n", s.Balance.StringFixed(2))
	if s.OpenCount > 0 {
		fmt.Printf("  Still open:     %d\n", s.OpenCount)
	}
	fmt.Println(line)
}
