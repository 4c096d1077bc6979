package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/classhead/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// A nil rng falls back to the package-level math/rand source.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.Tensor {
	t := tensor.Zeros(shape)
	if fanIn+fanOut == 0 {
		return t
	}

	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := t.Data()
	for i := range data {
		data[i] = float32((uniform(rng)*2.0 - 1.0) * bound)
	}
	return t
}

//nolint:gosec // Using math/rand for weight initialization (not security-critical)
func uniform(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()
	}
	return rng.Float64()
}
