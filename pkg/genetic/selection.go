package genetic

import "math/rand"

// TournamentSelect draws an incumbent uniformly, then k-1 challengers with
// replacement. A challenger only wins on a strictly greater score, so ties
// favour the earlier draw. The returned individual is a population member,
// not a copy.
func TournamentSelect(rng *rand.Rand, pop Population, scores []float64, k int) Individual {
	best := rng.Intn(len(pop))
	for i := 1; i < k; i++ {
		idx := rng.Intn(len(pop))
		if scores[idx] > scores[best] {
			best = idx
		}
	}
	return pop[best]
}

// SelectParents runs one tournament per population slot
func SelectParents(rng *rand.Rand, pop Population, scores []float64, k int) Population {
	parents := make(Population, len(pop))
	for i := range parents {
		parents[i] = TournamentSelect(rng, pop, scores, k)
	}
	return parents
}
