// Package checkpoint bundles a classifier head, its label class map and the
// metadata needed to rebuild it into an immutable snapshot, and encodes
// snapshots to the binary checkpoint format.
package checkpoint

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
)

// Parameter names of the classifier head inside a checkpoint.
const (
	HeadPrefix  = "classifier."
	WeightParam = HeadPrefix + nn.WeightKey
	BiasParam   = HeadPrefix + nn.BiasKey
)

// DefaultPretrained is assumed for checkpoints that do not record the flag.
const DefaultPretrained = true

// Checkpoint is an immutable model snapshot: learned parameters plus the
// label class map, feature extractor identifier and pretrained flag needed
// to rebuild an architecture-compatible head.
//
// Accessors return copies; a Checkpoint never changes after New.
type Checkpoint struct {
	params     map[string]*tensor.Tensor
	labels     *labels.ClassMap
	extractor  string
	pretrained bool
}

// New creates a checkpoint. Parameters are deep-copied.
func New(params map[string]*tensor.Tensor, lm *labels.ClassMap, extractorID string, pretrained bool) *Checkpoint {
	copied := make(map[string]*tensor.Tensor, len(params))
	for name, t := range params {
		copied[name] = t.Clone()
	}
	if lm == nil {
		lm = labels.MustFromNames()
	}
	return &Checkpoint{
		params:     copied,
		labels:     lm.Clone(),
		extractor:  extractorID,
		pretrained: pretrained,
	}
}

// Save packages a live head and its label class map. It performs no
// computation beyond copying.
func Save(lm *labels.ClassMap, head *nn.Linear, extractorID string, pretrained bool) *Checkpoint {
	params := make(map[string]*tensor.Tensor, 2)
	for key, t := range head.StateDict() {
		params[HeadPrefix+key] = t
	}
	return New(params, lm, extractorID, pretrained)
}

// LoadOptions configures Load.
type LoadOptions struct {
	// AnchorsPerClass is the number of head rows per label class. Zero means 1.
	AnchorsPerClass int
	// Rand seeds a fresh head when the checkpoint carries none.
	Rand *rand.Rand
}

// Load rebuilds the label class map and head stored in c.
//
// The feature extractor identifier is resolved through reg to the head's
// input dimension; an unknown identifier fails with
// backbone.ErrUnknownBackbone. A checkpoint without head parameters yields a
// freshly initialised head.
func Load(c *Checkpoint, reg *backbone.Registry, opts LoadOptions) (*labels.ClassMap, *nn.Linear, error) {
	dim, err := reg.Dim(c.extractor)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load checkpoint")
	}

	anchors := opts.AnchorsPerClass
	if anchors < 1 {
		anchors = 1
	}
	head := nn.NewLinear(dim, c.labels.Len()*anchors, opts.Rand)

	state := make(map[string]*tensor.Tensor, 2)
	for name, t := range c.params {
		if strings.HasPrefix(name, HeadPrefix) {
			state[strings.TrimPrefix(name, HeadPrefix)] = t
		}
	}
	if len(state) > 0 {
		if err := head.LoadStateDict(state); err != nil {
			return nil, nil, errors.Wrapf(err, "load checkpoint (%s, %d classes)", c.extractor, c.labels.Len())
		}
	}
	return c.labels.Clone(), head, nil
}

// Labels returns the label class map.
func (c *Checkpoint) Labels() *labels.ClassMap {
	return c.labels.Clone()
}

// FeatureExtractor returns the feature extractor identifier.
func (c *Checkpoint) FeatureExtractor() string {
	return c.extractor
}

// Pretrained returns the pretrained flag.
func (c *Checkpoint) Pretrained() bool {
	return c.pretrained
}

// ParameterNames returns the parameter names in sorted order.
func (c *Checkpoint) ParameterNames() []string {
	names := make([]string, 0, len(c.params))
	for name := range c.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parameter returns a copy of one parameter.
func (c *Checkpoint) Parameter(name string) (*tensor.Tensor, bool) {
	t, ok := c.params[name]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Parameters returns copies of all parameters.
func (c *Checkpoint) Parameters() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(c.params))
	for name, t := range c.params {
		out[name] = t.Clone()
	}
	return out
}

// NumClasses returns the number of label classes.
func (c *Checkpoint) NumClasses() int {
	return c.labels.Len()
}

// shared exposes the parameter map without copying, for read-only use
// inside this package.
func (c *Checkpoint) shared() map[string]*tensor.Tensor {
	return c.params
}
