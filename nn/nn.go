// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/tensor"
)

// Linear represents a fully connected (dense) layer.
type Linear = nn.Linear

// NewLinear creates a new linear layer with Xavier initialization drawn
// from rng (nil uses the global source).
//
// Example:
//
//	head := nn.NewLinear(512, 3, rand.New(rand.NewSource(1)))
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	return nn.NewLinear(inFeatures, outFeatures, rng)
}

// NewLinearFrom wraps copies of existing weight [N, D] and bias [N] tensors.
func NewLinearFrom(weight, bias *tensor.Tensor) (*Linear, error) {
	return nn.NewLinearFrom(weight, bias)
}

// Softmax returns the softmax of a score vector.
func Softmax(logits []float32) []float32 {
	return nn.Softmax(logits)
}

// Argmax returns the index of the largest score, or -1 for an empty vector.
func Argmax(scores []float32) int {
	return nn.Argmax(scores)
}
