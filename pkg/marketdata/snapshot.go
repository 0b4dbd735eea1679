// Package marketdata turns per-symbol candlesticks into the close-price matrix
// consumed by the genetic optimizer
package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// CashMarket is a pseudo-asset with a constant price, so holding it never
// changes the portfolio value
const CashMarket = "CASH"

// Candlestick represents OHLCV data for a time period
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Symbols returns the distinct symbols in candles, sorted
func Symbols(candles []*Candlestick) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, c := range candles {
		if !seen[c.Symbol] {
			seen[c.Symbol] = true
			symbols = append(symbols, c.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// BuildSnapshot aligns candles on their timestamps and returns one row per
// distinct timestamp (ascending) and one column per market. A market with no
// candle at a timestamp gets NaN, except CashMarket which is constant when
// absent from the data. Candles for symbols outside markets are ignored.
func BuildSnapshot(candles []*Candlestick, markets []string) (genetic.PriceSnapshot, []time.Time, error) {
	if len(markets) == 0 {
		markets = Symbols(candles)
	}
	if len(markets) == 0 {
		return genetic.PriceSnapshot{}, nil, fmt.Errorf("no markets to build a snapshot from")
	}

	column := make(map[string]int, len(markets))
	for i, m := range markets {
		if _, dup := column[m]; dup {
			return genetic.PriceSnapshot{}, nil, fmt.Errorf("duplicate market %q", m)
		}
		column[m] = i
	}

	rowOf := make(map[int64]int)
	var times []time.Time
	hasData := make(map[string]bool)
	for _, c := range candles {
		if _, ok := column[c.Symbol]; !ok {
			continue
		}
		hasData[c.Symbol] = true
		key := c.Timestamp.UnixNano()
		if _, ok := rowOf[key]; !ok {
			rowOf[key] = -1
			times = append(times, c.Timestamp)
		}
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i, ts := range times {
		rowOf[ts.UnixNano()] = i
	}

	closes := make([][]float64, len(times))
	for r := range closes {
		row := make([]float64, len(markets))
		for m, name := range markets {
			if name == CashMarket && !hasData[name] {
				row[m] = 1
			} else {
				row[m] = math.NaN()
			}
		}
		closes[r] = row
	}

	for _, c := range candles {
		col, ok := column[c.Symbol]
		if !ok {
			continue
		}
		closes[rowOf[c.Timestamp.UnixNano()]][col] = c.Close
	}

	snapshot := genetic.PriceSnapshot{
		Markets: append([]string(nil), markets...),
		Close:   closes,
	}
	return snapshot, times, nil
}

// WithCash prepends a constant CashMarket column unless one is present
func WithCash(snapshot genetic.PriceSnapshot) genetic.PriceSnapshot {
	for _, m := range snapshot.Markets {
		if m == CashMarket {
			return snapshot
		}
	}

	closes := make([][]float64, len(snapshot.Close))
	for r, row := range snapshot.Close {
		closes[r] = append([]float64{1}, row...)
	}
	return genetic.PriceSnapshot{
		Markets: append([]string{CashMarket}, snapshot.Markets...),
		Close:   closes,
	}
}
