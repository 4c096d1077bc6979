// Package aggregate merges checkpoints from independent training runs into
// one consensus checkpoint by elementwise parameter averaging.
package aggregate

import (
	"context"

	"github.com/born-ml/classhead/internal/checkpoint"
	"github.com/born-ml/classhead/internal/store"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
)

// Errors returned by Average.
var (
	ErrNoSnapshots          = errors.New("no checkpoints to average")
	ErrParameterSetMismatch = errors.New("checkpoints have different parameter names")
	ErrShapeMismatch        = errors.New("checkpoints have different parameter shapes")
	ErrLabelMapMismatch     = errors.New("checkpoints have different label class maps")
	ErrMetadataMismatch     = errors.New("checkpoints have different feature extractors")
)

// Average returns the elementwise mean of every parameter across snapshots.
//
// All snapshots must carry the same parameter names, shapes, label class map
// and feature extractor. Sums are accumulated in float64 in input order and
// divided by the snapshot count. The label class map, feature extractor and
// pretrained flag of the result come from the last snapshot.
func Average(snapshots []*checkpoint.Checkpoint) (*checkpoint.Checkpoint, error) {
	if len(snapshots) == 0 {
		return nil, ErrNoSnapshots
	}

	first := snapshots[0]
	last := snapshots[len(snapshots)-1]
	names := first.ParameterNames()

	for i, s := range snapshots[1:] {
		if err := compatible(first, s, names); err != nil {
			return nil, errors.Wrapf(err, "snapshot %d", i+1)
		}
	}

	params := make(map[string]*tensor.Tensor, len(names))
	for _, name := range names {
		ref, _ := first.Parameter(name)
		sum := make([]float64, ref.NumElements())
		for _, s := range snapshots {
			p, _ := s.Parameter(name)
			for j, v := range p.Data() {
				sum[j] += float64(v)
			}
		}

		k := float64(len(snapshots))
		mean := make([]float32, len(sum))
		for j, v := range sum {
			mean[j] = float32(v / k)
		}
		t, err := tensor.New(ref.Shape(), mean)
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %s", name)
		}
		params[name] = t
	}

	return checkpoint.New(params, last.Labels(), last.FeatureExtractor(), last.Pretrained()), nil
}

func compatible(first, s *checkpoint.Checkpoint, names []string) error {
	other := s.ParameterNames()
	if len(other) != len(names) {
		return errors.Wrapf(ErrParameterSetMismatch, "%d vs %d parameters", len(names), len(other))
	}
	for i, name := range names {
		if other[i] != name {
			return errors.Wrapf(ErrParameterSetMismatch, "%q vs %q", name, other[i])
		}
		a, _ := first.Parameter(name)
		b, _ := s.Parameter(name)
		if !a.Shape().Equal(b.Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "%s: %v vs %v", name, a.Shape(), b.Shape())
		}
	}
	if !first.Labels().Equal(s.Labels()) {
		return ErrLabelMapMismatch
	}
	if first.FeatureExtractor() != s.FeatureExtractor() {
		return errors.Wrapf(ErrMetadataMismatch, "%q vs %q", first.FeatureExtractor(), s.FeatureExtractor())
	}
	return nil
}

// AverageFiles loads the checkpoints stored under keys, in order, and
// averages them. A single key returns that checkpoint unchanged.
func AverageFiles(ctx context.Context, st store.Store, keys []string) (*checkpoint.Checkpoint, error) {
	if len(keys) == 0 {
		return nil, ErrNoSnapshots
	}

	snapshots := make([]*checkpoint.Checkpoint, 0, len(keys))
	for _, key := range keys {
		data, err := st.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		ckpt, err := checkpoint.Unmarshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", key)
		}
		snapshots = append(snapshots, ckpt)
	}

	if len(snapshots) == 1 {
		return snapshots[0], nil
	}
	return Average(snapshots)
}
