package genetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNilRand is returned when an optimizer is built without a random source
var ErrNilRand = errors.New("random source is required")

// NewRand returns a seeded random source for a reproducible run
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed)) // #nosec G404 -- Non-cryptographic use: runs must be reproducible from a seed
}

// ============================================================================
// RESULT TYPES
// ============================================================================

// BestRecord is the highest-scoring individual observed so far
type BestRecord struct {
	Individual Individual `json:"individual"`
	Score      float64    `json:"score"`
}

// observe replaces the record with any strictly better member and reports
// whether it changed
func (b *BestRecord) observe(pop Population, scores []float64) bool {
	improved := false
	for i, score := range scores {
		if score > b.Score {
			b.Individual = pop[i].Clone()
			b.Score = score
			improved = true
		}
	}
	return improved
}

// GenerationStats summarizes one scored generation
type GenerationStats struct {
	Generation     int     `json:"generation"`
	BestEver       float64 `json:"best_ever"`
	Best           float64 `json:"best"`
	Average        float64 `json:"average"`
	Worst          float64 `json:"worst"`
	Improved       bool    `json:"improved"`
	PopulationSize int     `json:"population_size"`
	OffspringSize  int     `json:"offspring_size"`
}

// Observer receives generation statistics as the loop progresses
type Observer interface {
	OnGeneration(stats GenerationStats)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(stats GenerationStats)

// OnGeneration implements Observer
func (f ObserverFunc) OnGeneration(stats GenerationStats) {
	f(stats)
}

// Result is the outcome of one optimizer run
type Result struct {
	Positions   []float64     `json:"positions"`
	Best        Individual    `json:"best"`
	Score       float64       `json:"score"`
	Config      Config        `json:"config"`
	History     []float64     `json:"history"`
	Generations int           `json:"generations"`
	Duration    time.Duration `json:"duration"`
}

// ============================================================================
// OPTIMIZER
// ============================================================================

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger used for progress lines
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = logger
	}
}

// WithObserver registers a generation observer
func WithObserver(observer Observer) Option {
	return func(o *Optimizer) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// Optimizer evolves position vectors for one decision epoch.
// It is single-threaded and owns its random source for the duration of a run;
// use one Optimizer per goroutine.
type Optimizer struct {
	cfg       Config
	rng       *rand.Rand
	logger    zerolog.Logger
	observers []Observer
}

// New validates cfg and creates an optimizer drawing from rng
func New(cfg Config, rng *rand.Rand, opts ...Option) (*Optimizer, error) {
	if rng == nil {
		return nil, ErrNilRand
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opt := &Optimizer{
		cfg:    cfg.Clone(),
		rng:    rng,
		logger: log.With().Str("component", "genetic").Logger(),
	}
	for _, o := range opts {
		o(opt)
	}
	return opt, nil
}

// Config returns the configuration the optimizer was built with
func (o *Optimizer) Config() Config {
	return o.cfg.Clone()
}

// Run evolves the population for the configured number of generations and
// returns the best individual ever scored. The snapshot is only read.
func (o *Optimizer) Run(ctx context.Context, snapshot PriceSnapshot) (*Result, error) {
	startTime := time.Now()

	eval, err := NewEvaluator(snapshot, o.cfg.NumMarkets())
	if err != nil {
		return nil, fmt.Errorf("invalid price snapshot: %w", err)
	}
	if eval.Degenerate() {
		o.logger.Warn().
			Int("markets", o.cfg.NumMarkets()).
			Msg("All price deltas are missing; every individual scores zero")
	}

	o.logger.Debug().
		Int("population", o.cfg.PopulationSize).
		Int("generations", o.cfg.Iterations).
		Int("tournament", o.cfg.TournamentSize).
		Float64("crossover_rate", o.cfg.CrossoverRate).
		Float64("mutation_rate", o.cfg.MutationRate).
		Msg("Starting genetic optimization")

	pop := RandomPopulation(o.rng, o.cfg.PopulationSize, o.cfg.NumMarkets())
	best := BestRecord{Individual: pop[0].Clone(), Score: eval.Fitness(pop[0])}
	history := make([]float64, 0, o.cfg.Iterations)

	for gen := 0; gen < o.cfg.Iterations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("optimization stopped at generation %d: %w", gen, err)
		}

		scores := eval.Score(pop)
		improved := best.observe(pop, scores)

		parents := SelectParents(o.rng, pop, scores, o.cfg.TournamentSize)
		children := o.breed(parents)

		stats := summarize(gen, scores)
		stats.BestEver = best.Score
		stats.Improved = improved
		stats.PopulationSize = len(pop)
		stats.OffspringSize = len(children)

		pop = children
		history = append(history, best.Score)

		o.logger.Info().
			Int("generation", gen).
			Float64("best_score", best.Score).
			Float64("avg_score", stats.Average).
			Msg("Generation complete")

		for _, obs := range o.observers {
			obs.OnGeneration(stats)
		}
	}

	result := &Result{
		Positions:   best.Individual.Float64s(),
		Best:        best.Individual,
		Score:       best.Score,
		Config:      o.cfg.Clone(),
		History:     history,
		Generations: len(history),
		Duration:    time.Since(startTime),
	}

	o.logger.Debug().
		Float64("best_score", result.Score).
		Ints("positions", result.Best).
		Dur("duration", result.Duration).
		Msg("Genetic optimization complete")

	return result, nil
}

// breed pairs consecutive parents, crosses each pair and mutates both children
func (o *Optimizer) breed(parents Population) Population {
	children := make(Population, 0, len(parents))
	for i := 0; i+1 < len(parents); i += 2 {
		c1, c2 := Crossover(o.rng, parents[i], parents[i+1], o.cfg.CrossoverRate)
		Mutate(o.rng, c1, o.cfg.MutationRate)
		Mutate(o.rng, c2, o.cfg.MutationRate)
		children = append(children, c1, c2)
	}
	return children
}

func summarize(gen int, scores []float64) GenerationStats {
	stats := GenerationStats{
		Generation: gen,
		Best:       math.Inf(-1),
		Worst:      math.Inf(1),
	}
	if len(scores) == 0 {
		return stats
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
		stats.Best = math.Max(stats.Best, s)
		stats.Worst = math.Min(stats.Worst, s)
	}
	stats.Average = sum / float64(len(scores))
	return stats
}
