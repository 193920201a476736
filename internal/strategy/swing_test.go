package strategy

import (
	"errors"
	"math/rand"
	"testing"

	"fib-trading-engine/internal/broker"
)

func TestFindSwingsLocatesRecentAndPrevious(t *testing.T) {
	d := NewSwingDetector(2, 10)
	highs := []float64{100, 101, 99, 98, 105, 97, 96, 103, 95, 94}
	lows := []float64{50, 49, 51, 52, 45, 53, 54, 47, 55, 56}

	set, err := d.FindSwings(highs, lows)
	if err != nil {
		t.Fatalf("FindSwings returned error: %v", err)
	}
	if set.High == nil || set.High.Price != 105 || set.High.BarIndex != 4 {
		t.Errorf("High = %+v, want price 105 at index 4", set.High)
	}
	if set.PrevHigh == nil || set.PrevHigh.Price != 103 || set.PrevHigh.BarIndex != 7 {
		t.Errorf("PrevHigh = %+v, want price 103 at index 7", set.PrevHigh)
	}
	if set.Low == nil || set.Low.Price != 45 || set.Low.BarIndex != 4 {
		t.Errorf("Low = %+v, want price 45 at index 4", set.Low)
	}
	if set.PrevLow == nil || set.PrevLow.Price != 47 || set.PrevLow.BarIndex != 7 {
		t.Errorf("PrevLow = %+v, want price 47 at index 7", set.PrevLow)
	}
}

func TestFindSwingsEqualNeighborDisqualifies(t *testing.T) {
	d := NewSwingDetector(2, 10)
	// Index 6 matches the candidate at index 4, voiding both; index 7 now
	// has an equal-or-higher neighbor too.
	highs := []float64{100, 101, 99, 98, 105, 97, 105, 103, 95, 94}
	lows := []float64{50, 49, 51, 52, 45, 53, 54, 47, 55, 56}

	set, err := d.FindSwings(highs, lows)
	if err != nil {
		t.Fatalf("FindSwings returned error: %v", err)
	}
	if set.High != nil {
		t.Errorf("High = %+v, want nil when ties void every candidate", set.High)
	}
	if set.Low == nil || set.Low.Price != 45 {
		t.Errorf("Low = %+v, want price 45 untouched by the high-side tie", set.Low)
	}
}

func TestFindSwingsInsufficientData(t *testing.T) {
	d := NewSwingDetector(2, 10)
	short := make([]float64, 9)
	if _, err := d.FindSwings(short, short); !errors.Is(err, broker.ErrInsufficientData) {
		t.Errorf("FindSwings on 9 bars = %v, want ErrInsufficientData", err)
	}
}

func TestFindSwingsIndexNeverInConfirmationMargin(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, strength := range []int{1, 2, 3} {
		for _, lookback := range []int{7, 10, 20, 50} {
			if lookback <= 2*strength {
				continue
			}
			d := NewSwingDetector(strength, lookback)
			for trial := 0; trial < 25; trial++ {
				highs := make([]float64, lookback)
				lows := make([]float64, lookback)
				for i := range highs {
					mid := 100 + rng.Float64()*10
					highs[i] = mid + rng.Float64()*5
					lows[i] = mid - rng.Float64()*5
				}
				// Spikes inside the margins must never be reported.
				highs[0] += 100
				highs[lookback-1] += 100
				lows[0] -= 100
				lows[lookback-1] -= 100

				set, err := d.FindSwings(highs, lows)
				if err != nil {
					t.Fatalf("FindSwings(strength=%d lookback=%d) error: %v", strength, lookback, err)
				}
				for _, p := range []*SwingPoint{set.High, set.PrevHigh, set.Low, set.PrevLow} {
					if p == nil {
						continue
					}
					if p.BarIndex < strength || p.BarIndex >= lookback-strength {
						t.Fatalf("swing at index %d outside [%d,%d) for strength=%d lookback=%d",
							p.BarIndex, strength, lookback-strength, strength, lookback)
					}
				}
			}
		}
	}
}

func TestFindSwingsScansBeyondLookbackSeries(t *testing.T) {
	// Extra history beyond the lookback must not widen the scan window.
	d := NewSwingDetector(1, 5)
	highs := []float64{10, 12, 10, 9, 8, 50, 7, 6}
	lows := []float64{5, 4, 5, 6, 7, 1, 8, 9}

	set, err := d.FindSwings(highs, lows)
	if err != nil {
		t.Fatalf("FindSwings returned error: %v", err)
	}
	if set.High == nil || set.High.BarIndex != 1 {
		t.Fatalf("High = %+v, want index 1", set.High)
	}
	if set.PrevHigh != nil {
		t.Errorf("PrevHigh = %+v, want nil: the spike at index 5 is outside the lookback window", set.PrevHigh)
	}
}
