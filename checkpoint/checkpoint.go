// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint saves, loads and averages classifier head snapshots.
//
// # Basic Usage
//
//	ckpt := checkpoint.Save(classes, head, "resnet50", true)
//	err := checkpoint.Encode(w, ckpt, checkpoint.EncodeOptions{Compress: true})
//
//	ckpt, err := checkpoint.Decode(r)
//	classes, head, err := checkpoint.Load(ckpt, backbone, checkpoint.LoadOptions{})
//
//	merged, err := checkpoint.Average([]*checkpoint.Checkpoint{a, b, c})
package checkpoint

import (
	"io"

	"github.com/born-ml/classhead/internal/aggregate"
	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/checkpoint"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
)

// Parameter names of the classifier head.
const (
	WeightParam = checkpoint.WeightParam
	BiasParam   = checkpoint.BiasParam
)

// Checkpoint is an immutable model snapshot.
type Checkpoint = checkpoint.Checkpoint

// EncodeOptions configures Encode.
type EncodeOptions = checkpoint.EncodeOptions

// LoadOptions configures Load.
type LoadOptions = checkpoint.LoadOptions

// Registry maps feature extractor identifiers to their output dimension.
type Registry = backbone.Registry

// Errors.
var (
	ErrMissingLabelMap      = checkpoint.ErrMissingLabelMap
	ErrUnknownBackbone      = backbone.ErrUnknownBackbone
	ErrNoSnapshots          = aggregate.ErrNoSnapshots
	ErrParameterSetMismatch = aggregate.ErrParameterSetMismatch
	ErrShapeMismatch        = aggregate.ErrShapeMismatch
	ErrLabelMapMismatch     = aggregate.ErrLabelMapMismatch
	ErrMetadataMismatch     = aggregate.ErrMetadataMismatch
)

// NewRegistry returns the built-in feature extractor table.
func NewRegistry() *Registry {
	return backbone.NewRegistry()
}

// Save packages a head and its label class map.
func Save(classes *labels.ClassMap, head *nn.Linear, extractorID string, pretrained bool) *Checkpoint {
	return checkpoint.Save(classes, head, extractorID, pretrained)
}

// Load rebuilds the label class map and head stored in a checkpoint.
func Load(c *Checkpoint, reg *Registry, opts LoadOptions) (*labels.ClassMap, *nn.Linear, error) {
	return checkpoint.Load(c, reg, opts)
}

// Encode writes a checkpoint in the binary checkpoint format.
func Encode(w io.Writer, c *Checkpoint, opts EncodeOptions) error {
	return checkpoint.Encode(w, c, opts)
}

// Decode reads a checkpoint written by Encode.
func Decode(r io.Reader) (*Checkpoint, error) {
	return checkpoint.Decode(r)
}

// Average returns the elementwise mean of compatible checkpoints. Metadata
// comes from the last one.
func Average(snapshots []*Checkpoint) (*Checkpoint, error) {
	return aggregate.Average(snapshots)
}
