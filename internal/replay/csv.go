package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fib-trading-engine/internal/market"
)

var csvColumns = []string{"time", "open", "high", "low", "close", "volume"}

// LoadBarsCSV reads a chronological bar series from a CSV file with the
// header time,open,high,low,close,volume. Timestamps are RFC 3339 or unix
// seconds. Row errors carry the line number.
func LoadBarsCSV(path string) ([]market.Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open bars: %w", err)
	}
	defer file.Close()
	return ReadBars(file)
}

// ReadBars parses bars from CSV data.
func ReadBars(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("replay: read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var bars []market.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		bar, err := parseBar(rec)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("replay: no bars in input")
	}
	return bars, nil
}

func checkHeader(header []string) error {
	if len(header) != len(csvColumns) {
		return fmt.Errorf("replay: want %d columns %v, got %d", len(csvColumns), csvColumns, len(header))
	}
	for i, want := range csvColumns {
		if strings.ToLower(strings.TrimSpace(header[i])) != want {
			return fmt.Errorf("replay: column %d is %q, want %q", i, header[i], want)
		}
	}
	return nil
}

func parseBar(rec []string) (market.Bar, error) {
	ts, err := parseTime(rec[0])
	if err != nil {
		return market.Bar{}, err
	}
	vals := make([]float64, 5)
	for i := 1; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("column %s: %w", csvColumns[i], err)
		}
		vals[i-1] = v
	}
	bar := market.Bar{
		Time:   ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	if bar.High < bar.Low ||
		bar.Open > bar.High || bar.Open < bar.Low ||
		bar.Close > bar.High || bar.Close < bar.Low {
		return market.Bar{}, fmt.Errorf("inconsistent ohlc %v/%v/%v/%v", bar.Open, bar.High, bar.Low, bar.Close)
	}
	return bar, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
