// Package model runs a classifier head, optionally behind a feature
// extractor, and turns its scores into per-sample predictions.
package model

import (
	"context"

	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/checkpoint"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
)

// ErrNoExtractor is returned when raw input is given to a model without a
// feature extractor.
var ErrNoExtractor = errors.New("model has no feature extractor for raw input")

// Forward computes logits [B, rows] for a batch.
//
// With isFeatureVector set, input is flattened to [B, D] and fed to the head
// directly. Otherwise it is passed through extractor first and the features
// are flattened the same way. Column i of the result is the head's row i.
func Forward(ctx context.Context, head *nn.Linear, extractor backbone.Extractor, input *tensor.Tensor, isFeatureVector bool) (*tensor.Tensor, error) {
	features := input
	if !isFeatureVector {
		if extractor == nil {
			return nil, ErrNoExtractor
		}
		var err error
		features, err = extractor.Extract(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "feature extraction failed")
		}
	}

	flat, err := Flatten(features)
	if err != nil {
		return nil, err
	}
	logits, err := head.Forward(flat)
	if err != nil {
		return nil, errors.Wrap(err, "classifier head")
	}
	return logits, nil
}

// Flatten reshapes [B, ...] to [B, D], D being the product of the trailing
// dimensions. A 1D input [B] becomes [B, 1].
func Flatten(t *tensor.Tensor) (*tensor.Tensor, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		return nil, errors.New("flatten: scalar input has no batch dimension")
	}
	if len(shape) == 2 {
		return t, nil
	}
	d := 1
	for _, n := range shape[1:] {
		d *= n
	}
	return t.Reshape(shape[0], d)
}

// Prediction is the decision for one sample.
type Prediction struct {
	Index      int       // Winning class index, -1 for a head with no classes.
	Label      string    // Winning class name.
	Confidence float32   // Softmax probability of the winning class.
	Logits     []float32 // Per-class scores.
}

// Model bundles a head with its label class map and feature extractor.
type Model struct {
	Labels           *labels.ClassMap
	Head             *nn.Linear
	Extractor        backbone.Extractor
	FeatureExtractor string
	Pretrained       bool
	AnchorsPerClass  int
}

// FromCheckpoint rebuilds a model from a checkpoint. The extractor is built
// through reg only when withExtractor is set; feature-vector inference needs
// none.
func FromCheckpoint(ckpt *checkpoint.Checkpoint, reg *backbone.Registry, opts checkpoint.LoadOptions, withExtractor bool) (*Model, error) {
	lm, head, err := checkpoint.Load(ckpt, reg, opts)
	if err != nil {
		return nil, err
	}
	m := &Model{
		Labels:           lm,
		Head:             head,
		FeatureExtractor: ckpt.FeatureExtractor(),
		Pretrained:       ckpt.Pretrained(),
		AnchorsPerClass:  max(opts.AnchorsPerClass, 1),
	}
	if withExtractor {
		m.Extractor, err = reg.New(ckpt.FeatureExtractor(), ckpt.Pretrained())
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Checkpoint packages the model.
func (m *Model) Checkpoint() *checkpoint.Checkpoint {
	return checkpoint.Save(m.Labels, m.Head, m.FeatureExtractor, m.Pretrained)
}

// Logits runs Forward with the model's head and extractor.
func (m *Model) Logits(ctx context.Context, input *tensor.Tensor, isFeatureVector bool) (*tensor.Tensor, error) {
	return Forward(ctx, m.Head, m.Extractor, input, isFeatureVector)
}

// Predict returns one prediction per sample. With several anchors per class,
// a class scores as its best anchor.
func (m *Model) Predict(ctx context.Context, input *tensor.Tensor, isFeatureVector bool) ([]Prediction, error) {
	logits, err := m.Logits(ctx, input, isFeatureVector)
	if err != nil {
		return nil, err
	}

	batch := logits.Dim(0)
	preds := make([]Prediction, batch)
	for i := 0; i < batch; i++ {
		scores := ClassScores(logits.Row(i), m.AnchorsPerClass)
		pred := Prediction{Index: nn.Argmax(scores), Logits: scores}
		if pred.Index >= 0 {
			pred.Label = m.Labels.Name(pred.Index)
			pred.Confidence = nn.Softmax(scores)[pred.Index]
		}
		preds[i] = pred
	}
	return preds, nil
}

// ClassScores pools a row of head outputs into one score per class, taking
// the best of each class's anchors.
func ClassScores(row []float32, anchorsPerClass int) []float32 {
	anchors := max(anchorsPerClass, 1)
	if anchors == 1 {
		return row
	}
	scores := make([]float32, len(row)/anchors)
	for c := range scores {
		group := row[c*anchors : (c+1)*anchors]
		best := group[0]
		for _, v := range group[1:] {
			if v > best {
				best = v
			}
		}
		scores[c] = best
	}
	return scores
}
