package genetic

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(rows, markets int, seed int64) PriceSnapshot {
	rng := NewRand(seed)
	close := make([][]float64, rows)
	for r := range close {
		close[r] = make([]float64, markets)
		for m := range close[r] {
			close[r][m] = 100 + rng.NormFloat64()*5
		}
	}
	return PriceSnapshot{Close: close}
}

func testConfig(markets int) Config {
	names := make([]string, markets)
	for i := range names {
		names[i] = "M" + string(rune('A'+i%26))
	}
	cfg := DefaultConfig(names)
	cfg.PopulationSize = 20
	cfg.Iterations = 15
	return cfg
}

func quietLogger() Option {
	return WithLogger(zerolog.Nop())
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(5)
	cfg.PopulationSize = 7

	_, err := New(cfg, NewRand(1), quietLogger())
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("population_size"))
}

func TestNewRequiresRand(t *testing.T) {
	_, err := New(testConfig(5), nil)
	assert.ErrorIs(t, err, ErrNilRand)
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testConfig(12)
	snapshot := testSnapshot(30, 12, 5)

	run := func() *Result {
		opt, err := New(cfg, NewRand(42), quietLogger())
		require.NoError(t, err)
		result, err := opt.Run(context.Background(), snapshot)
		require.NoError(t, err)
		return result
	}

	first, second := run(), run()
	assert.Equal(t, first.Best, second.Best)
	assert.Equal(t, first.Positions, second.Positions)
	assert.Equal(t, math.Float64bits(first.Score), math.Float64bits(second.Score))
	assert.Equal(t, first.History, second.History)
}

func TestRunDifferentSeedsExplore(t *testing.T) {
	cfg := testConfig(12)
	cfg.Iterations = 0
	snapshot := testSnapshot(5, 12, 9)

	distinct := map[string]bool{}
	for seed := int64(0); seed < 10; seed++ {
		opt, err := New(cfg, NewRand(seed), quietLogger())
		require.NoError(t, err)
		result, err := opt.Run(context.Background(), snapshot)
		require.NoError(t, err)
		distinct[formatInts(result.Best)] = true
	}
	assert.Greater(t, len(distinct), 1)
}

func formatInts(ind Individual) string {
	var sb strings.Builder
	for _, v := range ind {
		sb.WriteString(string(rune('1' + v)))
	}
	return sb.String()
}

func TestRunBestEverIsMonotonic(t *testing.T) {
	cfg := testConfig(10)
	cfg.Iterations = 40
	cfg.MutationRate = 0.2

	opt, err := New(cfg, NewRand(3), quietLogger())
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), testSnapshot(10, 10, 3))
	require.NoError(t, err)

	require.Len(t, result.History, cfg.Iterations)
	for g := 1; g < len(result.History); g++ {
		assert.GreaterOrEqual(t, result.History[g], result.History[g-1], "generation %d", g)
	}
	assert.Equal(t, result.History[len(result.History)-1], result.Score)
}

func TestRunConvergesTowardOptimum(t *testing.T) {
	// Deltas alternate in sign, so the optimum is fully long/short accordingly
	cfg := testConfig(8)
	cfg.PopulationSize = 60
	cfg.Iterations = 100
	cfg.CrossoverRate = 0.7
	cfg.MutationRate = 0.05

	snapshot := PriceSnapshot{Close: [][]float64{
		{10, 10, 10, 10, 10, 10, 10, 10},
		{11, 9, 11, 9, 11, 9, 11, 9},
	}}

	opt, err := New(cfg, NewRand(8), quietLogger())
	require.NoError(t, err)
	result, err := opt.Run(context.Background(), snapshot)
	require.NoError(t, err)

	assert.Equal(t, 8.0, result.Score)
	assert.Equal(t, Individual{1, -1, 1, -1, 1, -1, 1, -1}, result.Best)
}

func TestRunScoreMatchesFitness(t *testing.T) {
	cfg := testConfig(6)
	snapshot := testSnapshot(4, 6, 21)

	opt, err := New(cfg, NewRand(21), quietLogger())
	require.NoError(t, err)
	result, err := opt.Run(context.Background(), snapshot)
	require.NoError(t, err)

	eval, err := NewEvaluator(snapshot, 6)
	require.NoError(t, err)
	assert.Equal(t, eval.Fitness(result.Best), result.Score)
	assert.Equal(t, result.Best.Float64s(), result.Positions)
	for _, v := range result.Best {
		assert.True(t, IsAllele(v))
	}
}

func TestRunZeroIterationsReturnsSeed(t *testing.T) {
	cfg := testConfig(5)
	cfg.Iterations = 0
	snapshot := testSnapshot(3, 5, 1)

	opt, err := New(cfg, NewRand(77), quietLogger())
	require.NoError(t, err)
	result, err := opt.Run(context.Background(), snapshot)
	require.NoError(t, err)

	initial := RandomPopulation(NewRand(77), cfg.PopulationSize, 5)
	eval, err := NewEvaluator(snapshot, 5)
	require.NoError(t, err)

	assert.Equal(t, initial[0], result.Best)
	assert.Equal(t, eval.Fitness(initial[0]), result.Score)
	assert.Empty(t, result.History)
	assert.Zero(t, result.Generations)
}

func TestRunEndToEndTwoMarkets(t *testing.T) {
	cfg := Config{
		Markets:        []string{"CASH", "F_ES"},
		PopulationSize: 4,
		TournamentSize: 2,
		CrossoverRate:  1.0,
		MutationRate:   0.0,
		Iterations:     1,
	}
	snapshot := PriceSnapshot{Close: [][]float64{{5, 5}, {6, 4}}}

	opt, err := New(cfg, NewRand(42), quietLogger())
	require.NoError(t, err)
	result, err := opt.Run(context.Background(), snapshot)
	require.NoError(t, err)

	initial := RandomPopulation(NewRand(42), cfg.PopulationSize, 2)
	assert.True(t, initial.Contains(result.Best), "best %v not in %v", result.Best, initial)

	eval, err := NewEvaluator(snapshot, 2)
	require.NoError(t, err)
	assert.Equal(t, eval.Fitness(result.Best), result.Score)

	bestInitial := math.Inf(-1)
	for _, ind := range initial {
		bestInitial = math.Max(bestInitial, eval.Fitness(ind))
	}
	assert.Equal(t, bestInitial, result.Score)
	assert.Equal(t, cfg, result.Config)
}

func TestRunPopulationSizeIsInvariant(t *testing.T) {
	cfg := testConfig(7)
	cfg.PopulationSize = 16
	cfg.Iterations = 12

	var stats []GenerationStats
	opt, err := New(cfg, NewRand(5), quietLogger(), WithObserver(ObserverFunc(func(s GenerationStats) {
		stats = append(stats, s)
	})))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), testSnapshot(6, 7, 5))
	require.NoError(t, err)

	require.Len(t, stats, cfg.Iterations)
	for i, s := range stats {
		assert.Equal(t, i, s.Generation)
		assert.Equal(t, cfg.PopulationSize, s.PopulationSize)
		assert.Equal(t, cfg.PopulationSize, s.OffspringSize)
		assert.GreaterOrEqual(t, s.BestEver, s.Best)
		assert.GreaterOrEqual(t, s.Best, s.Average)
		assert.GreaterOrEqual(t, s.Average, s.Worst)
	}
}

func TestRunLogsOneLinePerGeneration(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(4)
	cfg.Iterations = 5

	opt, err := New(cfg, NewRand(1), WithLogger(zerolog.New(&buf).Level(zerolog.InfoLevel)))
	require.NoError(t, err)
	_, err = opt.Run(context.Background(), testSnapshot(3, 4, 1))
	require.NoError(t, err)

	assert.Equal(t, cfg.Iterations, strings.Count(buf.String(), "Generation complete"))
	assert.Contains(t, buf.String(), `"best_score"`)
}

func TestRunRejectsBadSnapshot(t *testing.T) {
	called := false
	opt, err := New(testConfig(3), NewRand(1), quietLogger(), WithObserver(ObserverFunc(func(GenerationStats) {
		called = true
	})))
	require.NoError(t, err)

	_, err = opt.Run(context.Background(), PriceSnapshot{Close: [][]float64{{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = opt.Run(context.Background(), PriceSnapshot{Close: [][]float64{{1, 2}, {3, 4}}})
	assert.ErrorIs(t, err, ErrColumnMismatch)

	assert.False(t, called)
}

func TestRunDegenerateSnapshotKeepsSeed(t *testing.T) {
	nan := math.NaN()
	cfg := testConfig(3)

	opt, err := New(cfg, NewRand(13), quietLogger())
	require.NoError(t, err)
	result, err := opt.Run(context.Background(), PriceSnapshot{Close: [][]float64{{nan, nan, nan}, {1, 2, 3}}})
	require.NoError(t, err)

	initial := RandomPopulation(NewRand(13), cfg.PopulationSize, 3)
	assert.Equal(t, initial[0], result.Best)
	assert.Zero(t, result.Score)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt, err := New(testConfig(4), NewRand(1), quietLogger())
	require.NoError(t, err)

	_, err = opt.Run(ctx, testSnapshot(3, 4, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunDoesNotModifyConfig(t *testing.T) {
	cfg := testConfig(4)
	opt, err := New(cfg, NewRand(1), quietLogger())
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), testSnapshot(3, 4, 1))
	require.NoError(t, err)

	result.Config.Markets[0] = "changed"
	assert.NotEqual(t, "changed", opt.Config().Markets[0])
	assert.NotEqual(t, "changed", cfg.Markets[0])
}
