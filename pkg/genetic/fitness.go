package genetic

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInsufficientHistory is returned when a snapshot has fewer than two rows
	ErrInsufficientHistory = errors.New("price snapshot needs at least 2 rows")

	// ErrColumnMismatch is returned when a snapshot row width differs from the market count
	ErrColumnMismatch = errors.New("price snapshot column count does not match markets")

	// ErrNonFinitePrice is returned when the scored bars hold an infinite price
	// or their price changes overflow float64
	ErrNonFinitePrice = errors.New("price snapshot has non-finite price changes")
)

// PriceSnapshot is a matrix of close prices: one row per bar, one column per market.
// Missing prices are NaN.
type PriceSnapshot struct {
	Markets []string    `json:"markets,omitempty"`
	Close   [][]float64 `json:"close"`
}

// Rows returns the number of bars in the snapshot
func (s PriceSnapshot) Rows() int {
	return len(s.Close)
}

// Validate checks the snapshot can be scored against nMarkets assets
func (s PriceSnapshot) Validate(nMarkets int) error {
	if len(s.Close) < 2 {
		return fmt.Errorf("%w: got %d", ErrInsufficientHistory, len(s.Close))
	}
	for i, row := range s.Close {
		if len(row) != nMarkets {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrColumnMismatch, i, len(row), nMarkets)
		}
	}

	// Scores are bounded by the sum of absolute deltas
	bound := 0.0
	for m, d := range s.Deltas() {
		if math.IsNaN(d) {
			continue
		}
		if math.IsInf(d, 0) {
			return fmt.Errorf("%w: market %d", ErrNonFinitePrice, m)
		}
		bound += math.Abs(d)
	}
	if math.IsInf(bound, 0) {
		return fmt.Errorf("%w: total absolute change overflows", ErrNonFinitePrice)
	}
	return nil
}

// Deltas returns the last one-step price change per market.
// A missing price on either bar yields NaN for that market.
func (s PriceSnapshot) Deltas() []float64 {
	if len(s.Close) < 2 {
		return nil
	}
	last := s.Close[len(s.Close)-1]
	prev := s.Close[len(s.Close)-2]

	deltas := make([]float64, len(last))
	for m := range last {
		if m >= len(prev) {
			deltas[m] = math.NaN()
			continue
		}
		deltas[m] = last[m] - prev[m]
	}
	return deltas
}

// Window keeps the most recent lookback rows. A non-positive lookback, or one
// longer than the history, keeps everything.
func (s PriceSnapshot) Window(lookback int) PriceSnapshot {
	if lookback <= 0 || lookback >= len(s.Close) {
		return s
	}
	return PriceSnapshot{
		Markets: s.Markets,
		Close:   s.Close[len(s.Close)-lookback:],
	}
}

// ============================================================================
// FITNESS EVALUATOR
// ============================================================================

// Evaluator scores individuals against a snapshot's latest price change
type Evaluator struct {
	deltas []float64
}

// NewEvaluator validates the snapshot and captures its one-step deltas
func NewEvaluator(snapshot PriceSnapshot, nMarkets int) (*Evaluator, error) {
	if err := snapshot.Validate(nMarkets); err != nil {
		return nil, err
	}
	return &Evaluator{deltas: snapshot.Deltas()}, nil
}

// Deltas returns a copy of the per-market price changes used for scoring
func (e *Evaluator) Deltas() []float64 {
	return append([]float64(nil), e.deltas...)
}

// Fitness is the one-step PnL proxy sum(delta[m] * ind[m]).
// Undefined terms are skipped instead of poisoning the total.
func (e *Evaluator) Fitness(ind Individual) float64 {
	n := len(e.deltas)
	if len(ind) < n {
		n = len(ind)
	}

	sum := 0.0
	for m := 0; m < n; m++ {
		term := e.deltas[m] * float64(ind[m])
		if math.IsNaN(term) {
			continue
		}
		sum += term
	}
	return sum
}

// Degenerate reports whether every delta is missing, so every individual scores zero
func (e *Evaluator) Degenerate() bool {
	for _, d := range e.deltas {
		if !math.IsNaN(d) {
			return false
		}
	}
	return true
}

// Score evaluates every member of the population, preserving order
func (e *Evaluator) Score(pop Population) []float64 {
	scores := make([]float64, len(pop))
	for i, ind := range pop {
		scores[i] = e.Fitness(ind)
	}
	return scores
}
