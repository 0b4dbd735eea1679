package marketdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	data := `timestamp,symbol,open,high,low,close,volume
1704067200,BTC,100,110,90,105,12
2024-01-01T01:00:00Z,BTC,105,111,100,108,10
bad,BTC,1,1,1,1,1
2024-01-01T02:00:00Z,BTC,abc,1,1,1,1
2024-01-02,ETH,10,11,9,10.5,3
`
	candles, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, candles, 3)

	assert.Equal(t, "BTC", candles[0].Symbol)
	assert.Equal(t, time.Unix(1704067200, 0).UTC(), candles[0].Timestamp)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 108.0, candles[1].Close)
	assert.Equal(t, "ETH", candles[2].Symbol)
	assert.Equal(t, 10.5, candles[2].Close)
}

func TestReadCSVInvalidHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,close\n1,2\n"))
	assert.ErrorContains(t, err, "invalid CSV header")
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "prices.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("timestamp,symbol,open,high,low,close,volume\n1,BTC,1,1,1,2,1\n"), 0o600))

	jsonArray := filepath.Join(dir, "array.json")
	require.NoError(t, os.WriteFile(jsonArray, []byte(`[{"symbol":"BTC","timestamp":"2024-01-01T00:00:00Z","close":3}]`), 0o600))

	jsonObject := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(jsonObject, []byte(`{"candles":[{"symbol":"ETH","timestamp":"2024-01-01T00:00:00Z","close":4}]}`), 0o600))

	candles, err := Load(csvPath)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].Close)

	candles, err = Load(jsonArray)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 3.0, candles[0].Close)

	candles, err = Load(jsonObject)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "ETH", candles[0].Symbol)

	_, err = Load(filepath.Join(dir, "prices.parquet"))
	assert.ErrorContains(t, err, "unsupported")

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
