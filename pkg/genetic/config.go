package genetic

import (
	"fmt"
	"math"
	"strings"
)

// Default hyperparameters
const (
	DefaultPopulationSize = 100
	DefaultTournamentSize = 5
	DefaultCrossoverRate  = 0.3
	DefaultMutationRate   = 0.02
	DefaultIterations     = 100
	DefaultLookback       = 504
	DefaultBudget         = 1000000.0
)

// Config is the hyperparameter set of one optimizer invocation.
// Lookback and Budget are carried through untouched for the caller.
type Config struct {
	Markets        []string `json:"markets" yaml:"markets"`
	Lookback       int      `json:"lookback" yaml:"lookback"`
	PopulationSize int      `json:"population_size" yaml:"population_size"`
	TournamentSize int      `json:"tournament_size" yaml:"tournament_size"`
	CrossoverRate  float64  `json:"crossover_rate" yaml:"crossover_rate"`
	MutationRate   float64  `json:"mutation_rate" yaml:"mutation_rate"`
	Iterations     int      `json:"n_iter" yaml:"n_iter"`
	Budget         float64  `json:"budget" yaml:"budget"`
}

// DefaultConfig returns the default hyperparameters for the given markets
func DefaultConfig(markets []string) Config {
	return Config{
		Markets:        append([]string(nil), markets...),
		Lookback:       DefaultLookback,
		PopulationSize: DefaultPopulationSize,
		TournamentSize: DefaultTournamentSize,
		CrossoverRate:  DefaultCrossoverRate,
		MutationRate:   DefaultMutationRate,
		Iterations:     DefaultIterations,
		Budget:         DefaultBudget,
	}
}

// NumMarkets is the individual length
func (c Config) NumMarkets() int {
	return len(c.Markets)
}

// Clone returns a copy that shares no slices with c
func (c Config) Clone() Config {
	clone := c
	clone.Markets = append([]string(nil), c.Markets...)
	return clone
}

// ============================================================================
// VALIDATION
// ============================================================================

// ValidationError describes one invalid configuration field
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Has reports whether a field failed validation
func (ve ValidationErrors) Has(field string) bool {
	for _, err := range ve {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate checks every hyperparameter so a run fails before its first random draw
func (c Config) Validate() error {
	var errors ValidationErrors

	if len(c.Markets) == 0 {
		errors = append(errors, ValidationError{
			Field:   "markets",
			Message: "At least one market is required",
		})
	}

	if c.Lookback < 0 {
		errors = append(errors, ValidationError{
			Field:   "lookback",
			Message: fmt.Sprintf("Lookback must be non-negative, got %d", c.Lookback),
		})
	}

	switch {
	case c.PopulationSize < 2:
		errors = append(errors, ValidationError{
			Field:   "population_size",
			Message: fmt.Sprintf("Population size must be at least 2, got %d", c.PopulationSize),
		})
	case c.PopulationSize%2 != 0:
		errors = append(errors, ValidationError{
			Field:   "population_size",
			Message: fmt.Sprintf("Population size must be even so parents can be paired, got %d", c.PopulationSize),
		})
	}

	if c.TournamentSize < 1 || (c.PopulationSize >= 1 && c.TournamentSize > c.PopulationSize) {
		errors = append(errors, ValidationError{
			Field:   "tournament_size",
			Message: fmt.Sprintf("Tournament size must be between 1 and %d, got %d", c.PopulationSize, c.TournamentSize),
		})
	}

	errors = append(errors, validateRate("crossover_rate", c.CrossoverRate)...)
	errors = append(errors, validateRate("mutation_rate", c.MutationRate)...)

	if c.Iterations < 0 {
		errors = append(errors, ValidationError{
			Field:   "n_iter",
			Message: fmt.Sprintf("Iteration count must be non-negative, got %d", c.Iterations),
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func validateRate(field string, rate float64) ValidationErrors {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("Rate must be within [0, 1], got %v", rate),
		}}
	}
	return nil
}
