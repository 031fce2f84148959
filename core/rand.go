package core

import (
	"fmt"
	"math/rand/v2"
)

// RandSource provides every random draw the simulation makes.
// This interface enables dependency injection for deterministic testing.
type RandSource interface {
	// Intn returns a random integer in [0, n). Panics if n <= 0.
	Intn(n int) int
	// Float64 returns a uniform float in [0, 1).
	Float64() float64
	// NormFloat64 returns a standard normal draw.
	NormFloat64() float64
}

// Rand is a seedable PCG stream. Two Rands built from the same seed produce
// identical sequences.
type Rand struct {
	r *rand.Rand
}

// NewRand returns a stream seeded with seed.
func NewRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn returns a random integer in [0, n).
// Panics if n <= 0 (programmer error).
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("Rand.Intn: n must be positive, got %d", n))
	}
	return r.r.IntN(n)
}

func (r *Rand) Float64() float64 {
	return r.r.Float64()
}

func (r *Rand) NormFloat64() float64 {
	return r.r.NormFloat64()
}

// Split derives an independent substream. The parent advances by two draws,
// so the sequence of Split calls is itself reproducible.
func (r *Rand) Split() *Rand {
	hi, lo := r.r.Uint64(), r.r.Uint64()
	return &Rand{r: rand.New(rand.NewPCG(hi, lo))}
}

// bernoulli draws one trial with success probability p.
func bernoulli(rng RandSource, p float64) bool {
	return rng.Float64() < p
}

// sampleWithoutReplacement picks k distinct indices from [0, n) using a partial
// Fisher-Yates shuffle. It makes exactly k Intn draws.
func sampleWithoutReplacement(rng RandSource, n, k int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
