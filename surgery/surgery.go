// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package surgery grows and shrinks classifier heads as label classes come
// and go, keeping class indices contiguous.
//
// # Basic Usage
//
//	classes := surgery.MustClasses("cat", "dog")
//	s := surgery.New(surgery.Options{Seed: 1})
//
//	classes, head, err = s.AddNeurons(classes, head, []string{"bird"})
//	classes, head, err = s.RemoveNeurons(classes, head, []string{"cat"})
//
//	classes, head, report, err := s.Reconcile(classes, head, projectClasses,
//	    surgery.Policy{AddMissing: true, RemoveObsolete: true})
package surgery

import (
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/surgery"
)

// ClassMap maps label class names to contiguous indices.
type ClassMap = labels.ClassMap

// Surgeon adds and removes head neurons.
type Surgeon = surgery.Surgeon

// Options configures a Surgeon.
type Options = surgery.Options

// Policy selects which half of a reconciliation runs.
type Policy = surgery.Policy

// Report lists the classes a reconciliation added and removed.
type Report = surgery.Report

// DefaultNoise is the default width of the noise added to new neurons.
const DefaultNoise = surgery.DefaultNoise

// Errors.
var (
	ErrNotContiguous  = labels.ErrNotContiguous
	ErrDuplicateClass = surgery.ErrDuplicateClass
	ErrUnknownClass   = surgery.ErrUnknownClass
	ErrClassExists    = surgery.ErrClassExists
	ErrHeadMismatch   = surgery.ErrHeadMismatch
)

// New creates a Surgeon.
func New(opts Options) *Surgeon {
	return surgery.New(opts)
}

// Classes builds a class map from a name-to-index mapping.
func Classes(m map[string]int) (*ClassMap, error) {
	return labels.New(m)
}

// MustClasses assigns indices to names in order and panics on duplicates.
func MustClasses(names ...string) *ClassMap {
	return labels.MustFromNames(names...)
}
