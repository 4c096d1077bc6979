// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the classifier head layer.
//
// # Overview
//
// A head is a single fully connected layer mapping a feature vector [D] to
// one score per output row. Row i belongs to the label class with index i.
//
// # Basic Usage
//
//	head := nn.NewLinear(2048, 10, nil)  // Xavier weights, zero bias
//	logits, err := head.Forward(features) // [B, 2048] -> [B, 10]
//	probs := nn.Softmax(logits.Row(0))
package nn
