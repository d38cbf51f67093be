package species

import "math/rand/v2"

// Rand is the randomness source for approximated draws. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// DefaultRand draws from the runtime's concurrency-safe global source.
var DefaultRand Rand = globalRand{}

// Uniform returns a value drawn uniformly from [lo, hi).
func Uniform(r Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Random species confidences are drawn from this range.
const (
	DrawConfidenceMin = 60.0
	DrawConfidenceMax = 80.0
)

// Draw picks one of the known species uniformly with a confidence in
// [DrawConfidenceMin, DrawConfidenceMax). It is an approximation used by the
// degraded tiers, not a classification.
func Draw(r Rand) (Record, float64) {
	rec := table[r.IntN(len(table))]
	return rec, Uniform(r, DrawConfidenceMin, DrawConfidenceMax)
}
