// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/classhead/internal/tensor"
)

// Shape is the size of each tensor dimension.
type Shape = tensor.Shape

// Tensor is a dense row-major float32 tensor.
type Tensor = tensor.Tensor

// New creates a tensor holding a copy of data.
func New(shape Shape, data []float32) (*Tensor, error) {
	return tensor.New(shape, data)
}

// MustNew is like New but panics on error.
func MustNew(shape Shape, data []float32) *Tensor {
	return tensor.MustNew(shape, data)
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	return tensor.Zeros(shape)
}

// FromBytes decodes little-endian float32 data.
func FromBytes(shape Shape, b []byte) (*Tensor, error) {
	return tensor.FromBytes(shape, b)
}
