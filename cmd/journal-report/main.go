package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

type symbolStats struct {
	Symbol   string
	Trades   int
	Wins     int
	Losses   int
	TotalPnL float64
	AvgPnL   float64
	WinRate  float64
}

type reasonCount struct {
	Reason string
	Count  int
}

// Summarizes a session journal written by the engine: closed trade
// performance per symbol plus the signal and rejection tallies that
// explain why the engine did or did not trade.
func main() {
	dbPath := flag.String("db", "fib-engine.db", "path to the session journal")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "journal not found: %v\n", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	stats, err := loadTradeStats(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read trades: %v\n", err)
		os.Exit(1)
	}
	signals, failedOrders, stopMoves := loadCounts(db)
	rejections, err := loadRejections(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read rejections: %v\n", err)
		os.Exit(1)
	}

	line := strings.Repeat("=", 80)
	fmt.Println(line)
	fmt.Printf("📊 SESSION JOURNAL REPORT  (%s)\n", *dbPath)
	fmt.Println(line)
	fmt.Printf("\n🟢 Signals generated: %d\n", signals)
	fmt.Printf("❌ Orders failed:     %d\n", failedOrders)
	fmt.Printf("🔧 Stop updates:      %d\n", stopMoves)

	if len(stats) == 0 {
		fmt.Println("\nNo closed trades recorded.")
	} else {
		printTradeTable(stats)
	}

	if len(rejections) > 0 {
		fmt.Println("\n" + line)
		fmt.Println("🚫 REJECTION REASONS")
		fmt.Println(line)
		for _, r := range rejections {
			fmt.Printf("  %5d  %s\n", r.Count, r.Reason)
		}
	}
}

func loadTradeStats(db *sql.DB) ([]*symbolStats, error) {
	rows, err := db.Query(`
		SELECT symbol,
		       COUNT(*),
		       SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END),
		       SUM(pnl)
		FROM trades
		GROUP BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*symbolStats
	for rows.Next() {
		s := &symbolStats{}
		if err := rows.Scan(&s.Symbol, &s.Trades, &s.Wins, &s.Losses, &s.TotalPnL); err != nil {
			return nil, err
		}
		if s.Trades > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
			s.AvgPnL = s.TotalPnL / float64(s.Trades)
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TotalPnL > stats[j].TotalPnL })
	return stats, rows.Err()
}

func loadCounts(db *sql.DB) (signals, failedOrders, stopMoves int) {
	db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&signals)
	db.QueryRow(`SELECT COUNT(*) FROM orders WHERE status = 'failed'`).Scan(&failedOrders)
	db.QueryRow(`SELECT COUNT(*) FROM stop_updates`).Scan(&stopMoves)
	return signals, failedOrders, stopMoves
}

func loadRejections(db *sql.DB) ([]reasonCount, error) {
	rows, err := db.Query(`
		SELECT reason, COUNT(*)
		FROM rejections
		GROUP BY reason
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reasonCount
	for rows.Next() {
		var r reasonCount
		if err := rows.Scan(&r.Reason, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func printTradeTable(stats []*symbolStats) {
	fmt.Println("\n📈 TRADE PERFORMANCE BY SYMBOL")
	fmt.Println("┌──────────────┬────────┬─────────┬─────────┬──────────────┬──────────────┬──────────┐")
	fmt.Println("│ Symbol       │ Trades │ Winners │ Losers  │ Total PnL    │ Avg PnL      │ Win Rate │")
	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")

	var totalPnL float64
	var totalTrades, totalWins, totalLosses int
	for _, s := range stats {
		emoji := "🟢"
		if s.TotalPnL < 0 {
			emoji = "🔴"
		}
		fmt.Printf("│ %s %-10s │ %6d │ %7d │ %7d │ %+12.2f │ %+12.2f │ %7.1f%% │\n",
			emoji, truncate(s.Symbol, 10),
			s.Trades, s.Wins, s.Losses,
			s.TotalPnL, s.AvgPnL, s.WinRate)

		totalPnL += s.TotalPnL
		totalTrades += s.Trades
		totalWins += s.Wins
		totalLosses += s.Losses
	}

	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")
	winRate := 0.0
	if totalTrades > 0 {
		winRate = float64(totalWins) / float64(totalTrades) * 100
	}
	fmt.Printf("│ 📊 TOTAL     │ %6d │ %7d │ %7d │ %+12.2f │ %+12.2f │ %7.1f%% │\n",
		totalTrades, totalWins, totalLosses,
		totalPnL, totalPnL/float64(max(totalTrades, 1)), winRate)
	fmt.Println("└──────────────┴────────┴─────────┴─────────┴──────────────┴──────────────┴──────────┘")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
