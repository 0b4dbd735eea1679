// Package genetic searches for per-asset position signals with a genetic algorithm.
//
// An Individual holds one signal per market: -1 (short), 0 (flat) or +1 (long).
// The Optimizer evolves a fixed-size Population of individuals against the most
// recent price change and returns the best individual it has ever scored.
package genetic

import "math/rand"

// Alleles is the signal alphabet an individual draws its loci from
var Alleles = [3]int{-1, 0, 1}

// Individual is one candidate position vector, indexed by market
type Individual []int

// Clone returns an independent copy of the individual
func (ind Individual) Clone() Individual {
	if ind == nil {
		return nil
	}
	clone := make(Individual, len(ind))
	copy(clone, ind)
	return clone
}

// Float64s converts the signals to a numeric array
func (ind Individual) Float64s() []float64 {
	out := make([]float64, len(ind))
	for i, v := range ind {
		out[i] = float64(v)
	}
	return out
}

// Equal reports whether both individuals hold the same signals
func (ind Individual) Equal(other Individual) bool {
	if len(ind) != len(other) {
		return false
	}
	for i := range ind {
		if ind[i] != other[i] {
			return false
		}
	}
	return true
}

// IsAllele reports whether v belongs to the signal alphabet
func IsAllele(v int) bool {
	for _, a := range Alleles {
		if a == v {
			return true
		}
	}
	return false
}

// RandomIndividual draws every locus uniformly from Alleles
func RandomIndividual(rng *rand.Rand, nMarkets int) Individual {
	ind := make(Individual, nMarkets)
	for i := range ind {
		ind[i] = Alleles[rng.Intn(len(Alleles))]
	}
	return ind
}

// Population is the ordered set of individuals evaluated in one generation.
// Indices matter: recombination pairs members (0,1), (2,3), ...
type Population []Individual

// RandomPopulation creates size random individuals, consuming rng row by row
func RandomPopulation(rng *rand.Rand, size, nMarkets int) Population {
	pop := make(Population, size)
	for i := range pop {
		pop[i] = RandomIndividual(rng, nMarkets)
	}
	return pop
}

// Contains reports whether an individual with the same signals is a member
func (p Population) Contains(ind Individual) bool {
	for _, member := range p {
		if member.Equal(ind) {
			return true
		}
	}
	return false
}
