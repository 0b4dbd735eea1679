package genetic

import "math/rand"

// Crossover recombines two equal-length parents at a single cut point.
//
// With probability rate the cut is drawn uniformly from [1, len-2) and the
// tails are swapped; otherwise the children are plain copies. Individuals
// shorter than 4 have no valid cut and are always copied, as are parents of
// unequal length. The rate draw is consumed in every case. The children never
// alias the parents.
func Crossover(rng *rand.Rand, p1, p2 Individual, rate float64) (Individual, Individual) {
	c1, c2 := p1.Clone(), p2.Clone()

	if rng.Float64() < rate {
		span := len(p1) - 3
		if span < 1 || len(p1) != len(p2) {
			return c1, c2
		}
		pt := 1 + rng.Intn(span)
		copy(c1[pt:], p2[pt:])
		copy(c2[pt:], p1[pt:])
	}

	return c1, c2
}

// Mutate flips each locus with probability rate to one of the other two
// alleles, in place. It returns the number of loci that changed.
func Mutate(rng *rand.Rand, ind Individual, rate float64) int {
	changed := 0
	for i := range ind {
		if rng.Float64() < rate {
			ind[i] = otherAllele(rng, ind[i])
			changed++
		}
	}
	return changed
}

func otherAllele(rng *rand.Rand, current int) int {
	var choices [len(Alleles)]int
	n := 0
	for _, a := range Alleles {
		if a != current {
			choices[n] = a
			n++
		}
	}
	return choices[rng.Intn(n)]
}
