package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `time,open,high,low,close,volume
2024-03-01T00:00:00Z,2000,2005,1997,2002,100
2024-03-01T00:15:00Z,2002,2007,1999,2004,110
2024-03-01T00:30:00Z,2004,2009,2001,2006,90
`

func TestReadBars(t *testing.T) {
	bars, err := ReadBars(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 2000.0, bars[0].Open)
	assert.Equal(t, 2005.0, bars[0].High)
	assert.Equal(t, 1997.0, bars[0].Low)
	assert.Equal(t, 2002.0, bars[0].Close)
	assert.Equal(t, 100.0, bars[0].Volume)
	assert.Equal(t, 2006.0, bars[2].Close)
}

func TestReadBarsUnixSeconds(t *testing.T) {
	in := "time,open,high,low,close,volume\n1709251200,2000,2005,1997,2002,100\n"

	bars, err := ReadBars(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bars[0].Time)
}

func TestReadBarsRejectsBadHeader(t *testing.T) {
	in := "date,open,high,low,close,volume\n2024-03-01T00:00:00Z,1,2,0,1,5\n"

	_, err := ReadBars(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"date"`)
}

func TestReadBarsRejectsInconsistentOHLC(t *testing.T) {
	in := "time,open,high,low,close,volume\n2024-03-01T00:00:00Z,2000,1990,1997,2002,100\n"

	_, err := ReadBars(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadBarsRejectsUnparseableTime(t *testing.T) {
	in := "time,open,high,low,close,volume\nyesterday,2000,2005,1997,2002,100\n"

	_, err := ReadBars(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable time")
}

func TestReadBarsRejectsEmptyInput(t *testing.T) {
	_, err := ReadBars(strings.NewReader("time,open,high,low,close,volume\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bars")
}

func TestLoadBarsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	bars, err := LoadBarsCSV(path)
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	_, err = LoadBarsCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}
