// Package surgery adds and removes output neurons of a classifier head while
// keeping the head rows and the label class map in one-to-one correspondence.
//
// Every operation is a pure transformation: it returns a new (map, head)
// pair and leaves its inputs untouched. Indices stay contiguous after every
// single mutation.
package surgery

import (
	"math"
	"math/rand"

	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
)

// DefaultNoise is the width of the uniform noise added to cloned template
// neurons.
const DefaultNoise = 0.01

// Errors returned by the surgeon. Label errors are shared with the labels
// package so callers can test either.
var (
	ErrDuplicateClass = labels.ErrDuplicateClass
	ErrUnknownClass   = labels.ErrUnknownClass
	ErrClassExists    = labels.ErrClassExists
	ErrHeadMismatch   = errors.New("head rows do not match label class map")
)

// Options configures a Surgeon.
type Options struct {
	// AnchorsPerClass is the number of consecutive head rows that belong to
	// one class. Plain classifiers use 1; detection-style heads with several
	// anchors per class use more. Zero means 1.
	AnchorsPerClass int

	// Noise is the width of the uniform noise added to each element of a
	// cloned neuron: values fall in (-Noise/2, Noise/2]. Zero means
	// DefaultNoise.
	Noise float32

	// Seed seeds the noise source.
	Seed int64
}

// Surgeon performs neuron surgery. It owns a random source and is not safe
// for concurrent use.
type Surgeon struct {
	anchors int
	noise   float32
	rng     *rand.Rand
}

// New creates a Surgeon.
func New(opts Options) *Surgeon {
	if opts.AnchorsPerClass <= 0 {
		opts.AnchorsPerClass = 1
	}
	if opts.Noise == 0 {
		opts.Noise = DefaultNoise
	}
	//nolint:gosec // Noise for neuron initialization (not security-critical)
	return &Surgeon{
		anchors: opts.AnchorsPerClass,
		noise:   opts.Noise,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// AnchorsPerClass returns the configured group size.
func (s *Surgeon) AnchorsPerClass() int {
	return s.anchors
}

// AddNeurons appends one neuron group per new class name.
//
// Each group is a copy of the template group (the existing group with the
// smallest sum of absolute weights and biases) plus independent uniform
// noise. Names are assigned indices N, N+1, ... in the order given. An empty
// name list returns the inputs unchanged.
func (s *Surgeon) AddNeurons(m *labels.ClassMap, head *nn.Linear, names []string) (*labels.ClassMap, *nn.Linear, error) {
	if len(names) == 0 {
		return m, head, nil
	}
	if err := labels.CheckUnique(names); err != nil {
		return nil, nil, errors.Wrap(err, "add neurons")
	}
	if err := s.checkHead(m, head); err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		if m.Has(name) {
			return nil, nil, errors.Wrapf(ErrClassExists, "add neurons: %q", name)
		}
	}

	dim := head.InFeatures()
	rows := head.OutFeatures()
	newRows := rows + len(names)*s.anchors
	templateW, templateB := s.template(head)

	weight := make([]float32, newRows*dim)
	copy(weight, head.Weight().Data())
	bias := make([]float32, newRows)
	copy(bias, head.Bias().Data())

	next := m
	for j, name := range names {
		first := rows + j*s.anchors
		for i, v := range templateW {
			weight[first*dim+i] = v + s.jitter()
		}
		for i, v := range templateB {
			bias[first+i] = v + s.jitter()
		}

		var err error
		if next, err = next.Append(name); err != nil {
			return nil, nil, errors.Wrap(err, "add neurons")
		}
	}

	out, err := s.newHead(weight, bias, newRows, dim)
	if err != nil {
		return nil, nil, err
	}
	return next, out, nil
}

// RemoveNeurons deletes the neuron group of every named class.
//
// Names are processed one at a time in the order given: the class's rows are
// cut out and every class with a larger index moves down by one before the
// next name is handled. An empty name list returns the inputs unchanged.
func (s *Surgeon) RemoveNeurons(m *labels.ClassMap, head *nn.Linear, names []string) (*labels.ClassMap, *nn.Linear, error) {
	if len(names) == 0 {
		return m, head, nil
	}
	if err := labels.CheckUnique(names); err != nil {
		return nil, nil, errors.Wrap(err, "remove neurons")
	}
	if err := s.checkHead(m, head); err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		if !m.Has(name) {
			return nil, nil, errors.Wrapf(ErrUnknownClass, "remove neurons: %q", name)
		}
	}

	dim := head.InFeatures()
	weight := append([]float32(nil), head.Weight().Data()...)
	bias := append([]float32(nil), head.Bias().Data()...)

	next := m
	for _, name := range names {
		var (
			idx int
			err error
		)
		if next, idx, err = next.Remove(name); err != nil {
			return nil, nil, errors.Wrap(err, "remove neurons")
		}
		first, last := idx*s.anchors, (idx+1)*s.anchors
		weight = append(weight[:first*dim], weight[last*dim:]...)
		bias = append(bias[:first], bias[last:]...)
	}

	out, err := s.newHead(weight, bias, len(bias), dim)
	if err != nil {
		return nil, nil, err
	}
	return next, out, nil
}

// TemplateGroup returns the index of the neuron group with the smallest
// mass, sum(|w|) + sum(|b|). The first minimum wins on ties. It returns -1
// for a head without rows.
func (s *Surgeon) TemplateGroup(head *nn.Linear) int {
	dim := head.InFeatures()
	groups := head.OutFeatures() / s.anchors
	w := head.Weight().Data()
	b := head.Bias().Data()

	best, bestMass := -1, math.Inf(1)
	for g := 0; g < groups; g++ {
		var mass float64
		for _, v := range w[g*s.anchors*dim : (g+1)*s.anchors*dim] {
			mass += math.Abs(float64(v))
		}
		for _, v := range b[g*s.anchors : (g+1)*s.anchors] {
			mass += math.Abs(float64(v))
		}
		if mass < bestMass {
			best, bestMass = g, mass
		}
	}
	return best
}

// template returns copies of the template group's weights and biases, or
// zeros when the head has no rows.
func (s *Surgeon) template(head *nn.Linear) ([]float32, []float32) {
	dim := head.InFeatures()
	w := make([]float32, s.anchors*dim)
	b := make([]float32, s.anchors)

	g := s.TemplateGroup(head)
	if g < 0 {
		return w, b
	}
	copy(w, head.Weight().Data()[g*s.anchors*dim:(g+1)*s.anchors*dim])
	copy(b, head.Bias().Data()[g*s.anchors:(g+1)*s.anchors])
	return w, b
}

func (s *Surgeon) jitter() float32 {
	return s.noise * (0.5 - s.rng.Float32())
}

func (s *Surgeon) checkHead(m *labels.ClassMap, head *nn.Linear) error {
	if head.OutFeatures() != m.Len()*s.anchors {
		return errors.Wrapf(ErrHeadMismatch, "%d rows for %d classes x %d anchors",
			head.OutFeatures(), m.Len(), s.anchors)
	}
	return nil
}

func (s *Surgeon) newHead(weight, bias []float32, rows, dim int) (*nn.Linear, error) {
	w, err := tensor.New(tensor.Shape{rows, dim}, weight)
	if err != nil {
		return nil, errors.Wrap(err, "rebuild weight")
	}
	b, err := tensor.New(tensor.Shape{rows}, bias)
	if err != nil {
		return nil, errors.Wrap(err, "rebuild bias")
	}
	return nn.NewLinearFrom(w, b)
}
