// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float32 tensors that carry classifier
// head parameters and feature batches.
//
// # Basic Usage
//
//	x := tensor.MustNew(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
//	row := x.Row(1)              // [4 5 6]
//	flat, _ := x.Reshape(-1)     // shape [6]
//
// Tensors are row-major. Data exposes the backing slice; Clone, Reshape and
// Row return copies.
package tensor
