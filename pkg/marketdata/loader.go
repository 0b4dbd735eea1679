package marketdata

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Load reads candles from a CSV or JSON file, chosen by extension
func Load(path string) ([]*Candlestick, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadFromCSV(path)
	case ".json":
		return LoadFromJSON(path)
	default:
		return nil, fmt.Errorf("unsupported data file extension %q (use .csv or .json)", filepath.Ext(path))
	}
}

// LoadFromCSV loads historical data from a CSV file
// CSV format: timestamp,symbol,open,high,low,close,volume
// timestamp can be Unix timestamp (integer) or RFC3339 string
func LoadFromCSV(path string) ([]*Candlestick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	candles, err := ReadCSV(file)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("file", path).
		Int("candles", len(candles)).
		Msg("Loaded historical data from CSV")

	return candles, nil
}

// ReadCSV parses candles from r; malformed records are skipped with a warning
func ReadCSV(r io.Reader) ([]*Candlestick, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	expectedHeaders := []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}
	if len(header) < len(expectedHeaders) {
		return nil, fmt.Errorf("invalid CSV header: expected %v, got %v", expectedHeaders, header)
	}

	var candles []*Candlestick
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record at line %d: %w", lineNum, err)
		}
		lineNum++

		if len(record) < len(expectedHeaders) {
			log.Warn().Int("line", lineNum).Msg("Skipping incomplete CSV record")
			continue
		}

		timestamp, ok := parseTimestamp(record[0])
		if !ok {
			log.Warn().Int("line", lineNum).Str("timestamp", record[0]).Msg("Failed to parse timestamp, skipping")
			continue
		}

		var values [5]float64
		valid := true
		for i := range values {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(record[i+2]), 64)
			if err != nil {
				log.Warn().Int("line", lineNum).Str("column", expectedHeaders[i+2]).Msg("Failed to parse price, skipping")
				valid = false
				break
			}
		}
		if !valid {
			continue
		}

		candles = append(candles, &Candlestick{
			Timestamp: timestamp,
			Symbol:    strings.TrimSpace(record[1]),
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		})
	}

	return candles, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), true
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		return parsed, true
	}
	if parsed, err := time.Parse("2006-01-02", s); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}

// LoadFromJSON loads historical data from a JSON file
// JSON format: array of candlestick objects or object with "candles" array
func LoadFromJSON(path string) ([]*Candlestick, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}

	var candles []*Candlestick
	if err := json.Unmarshal(data, &candles); err == nil {
		log.Info().
			Str("file", path).
			Int("candles", len(candles)).
			Msg("Loaded historical data from JSON (array format)")
		return candles, nil
	}

	var wrapper struct {
		Candles []*Candlestick `json:"candles"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse JSON file (tried both array and object formats): %w", err)
	}

	log.Info().
		Str("file", path).
		Int("candles", len(wrapper.Candles)).
		Msg("Loaded historical data from JSON (object format)")

	return wrapper.Candles, nil
}
