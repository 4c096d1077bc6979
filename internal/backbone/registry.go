// Package backbone holds the static table of feature extractors a classifier
// head can sit on. Each identifier resolves to a fixed output feature
// dimension and to a constructor supplied by the host process.
package backbone

import (
	"context"
	"sort"

	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
)

// DefaultID is used when a checkpoint does not name its feature extractor.
const DefaultID = "resnet50"

// Errors returned by the registry.
var (
	ErrUnknownBackbone     = errors.New("unknown feature extractor")
	ErrBackboneUnavailable = errors.New("feature extractor not attached")
)

// Extractor turns a raw input batch [B, ...] into feature vectors [B, D].
// Implementations may return any shape whose leading dimension is B and
// whose remaining dimensions flatten to D.
type Extractor interface {
	Extract(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error) {
	return f(ctx, input)
}

// Constructor builds an extractor, optionally with pretrained weights.
type Constructor func(pretrained bool) (Extractor, error)

// Entry describes one registered feature extractor.
type Entry struct {
	ID  string
	Dim int
	New Constructor
}

// Registry maps extractor identifiers to entries.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates a registry holding the built-in ResNet table. The
// built-in constructors return ErrBackboneUnavailable until a host process
// attaches real ones with Register.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry)}
	for id, dim := range map[string]int{
		"resnet18":  512,
		"resnet34":  512,
		"resnet50":  2048,
		"resnet101": 2048,
		"resnet152": 2048,
	} {
		r.Register(id, dim, unavailable(id))
	}
	return r
}

// Register adds or replaces an extractor.
func (r *Registry) Register(id string, dim int, ctor Constructor) {
	r.entries[id] = Entry{ID: id, Dim: dim, New: ctor}
}

// Attach replaces the constructor of an already registered extractor,
// keeping its dimension.
func (r *Registry) Attach(id string, ctor Constructor) error {
	entry, err := r.Lookup(id)
	if err != nil {
		return err
	}
	entry.New = ctor
	r.entries[id] = entry
	return nil
}

// Lookup returns the entry for an identifier.
func (r *Registry) Lookup(id string) (Entry, error) {
	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, errors.Wrapf(ErrUnknownBackbone, "%q", id)
	}
	return entry, nil
}

// Dim returns the output feature dimension of an extractor.
func (r *Registry) Dim(id string) (int, error) {
	entry, err := r.Lookup(id)
	if err != nil {
		return 0, err
	}
	return entry.Dim, nil
}

// New constructs the extractor for an identifier.
func (r *Registry) New(id string, pretrained bool) (Extractor, error) {
	entry, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	ext, err := entry.New(pretrained)
	if err != nil {
		return nil, errors.Wrapf(err, "construct feature extractor %q", id)
	}
	return ext, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func unavailable(id string) Constructor {
	return func(bool) (Extractor, error) {
		return nil, errors.Wrapf(ErrBackboneUnavailable, "%q", id)
	}
}
