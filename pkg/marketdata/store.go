package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// PoolInterface is the subset of pgxpool.Pool the store needs
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store reads close prices from the candlesticks table
type Store struct {
	pool PoolInterface
}

// NewStore creates a store over a pgx pool (or pgxmock in tests)
func NewStore(pool PoolInterface) *Store {
	return &Store{pool: pool}
}

// LoadCandles returns close prices for markets between start and end
func (s *Store) LoadCandles(ctx context.Context, markets []string, interval string, start, end time.Time) ([]*Candlestick, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("no database pool available")
	}

	query := `
		SELECT symbol, open_time, close
		FROM candlesticks
		WHERE symbol = ANY($1)
			AND interval = $2
			AND open_time >= $3
			AND open_time <= $4
		ORDER BY open_time ASC
	`

	rows, err := s.pool.Query(ctx, query, markets, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candlesticks: %w", err)
	}
	defer rows.Close()

	var candles []*Candlestick
	for rows.Next() {
		c := &Candlestick{}
		if err := rows.Scan(&c.Symbol, &c.Timestamp, &c.Close); err != nil {
			return nil, fmt.Errorf("failed to scan candlestick: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candlesticks: %w", err)
	}

	log.Debug().
		Strs("markets", markets).
		Str("interval", interval).
		Time("start", start).
		Time("end", end).
		Int("candles", len(candles)).
		Msg("Loaded candlesticks from database")

	return candles, nil
}

// LoadSnapshot loads candles and aligns them into a price snapshot
func (s *Store) LoadSnapshot(ctx context.Context, markets []string, interval string, start, end time.Time) (genetic.PriceSnapshot, error) {
	candles, err := s.LoadCandles(ctx, markets, interval, start, end)
	if err != nil {
		return genetic.PriceSnapshot{}, err
	}
	if len(candles) == 0 {
		return genetic.PriceSnapshot{}, fmt.Errorf("no candlesticks found for %v", markets)
	}

	snapshot, _, err := BuildSnapshot(candles, markets)
	return snapshot, err
}
