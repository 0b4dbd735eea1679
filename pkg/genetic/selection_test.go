package genetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexedPopulation(n int) Population {
	pop := make(Population, n)
	for i := range pop {
		pop[i] = Individual{i}
	}
	return pop
}

func TestTournamentSelect(t *testing.T) {
	pop := indexedPopulation(8)
	scores := []float64{3, 1, 4, 1, 5, 9, 2, 6}

	for _, k := range []int{1, 2, 5, 8} {
		replay := NewRand(7)
		expected := replay.Intn(len(pop))
		for i := 1; i < k; i++ {
			idx := replay.Intn(len(pop))
			if scores[idx] > scores[expected] {
				expected = idx
			}
		}

		selected := TournamentSelect(NewRand(7), pop, scores, k)
		assert.Equal(t, Individual{expected}, selected, "tournament size %d", k)
	}
}

func TestTournamentSelectTiesKeepIncumbent(t *testing.T) {
	pop := indexedPopulation(6)
	scores := make([]float64, len(pop))

	first := NewRand(99).Intn(len(pop))
	selected := TournamentSelect(NewRand(99), pop, scores, 6)

	assert.Equal(t, Individual{first}, selected)
}

func TestTournamentSelectReturnsMember(t *testing.T) {
	pop := indexedPopulation(4)
	scores := []float64{0, 0, 10, 0}

	selected := TournamentSelect(NewRand(1), pop, scores, 4)
	require.NotEmpty(t, selected)

	// The selector hands out the member itself; callers copy before mutating
	selected[0] = 42
	assert.True(t, pop.Contains(Individual{42}))
}

func TestSelectParents(t *testing.T) {
	pop := indexedPopulation(10)
	scores := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	parents := SelectParents(NewRand(3), pop, scores, 3)

	assert.Len(t, parents, len(pop))
	for _, p := range parents {
		assert.True(t, pop.Contains(p))
	}
}
