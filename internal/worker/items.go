package worker

import (
	"context"
	"encoding/json"
	"os"

	"github.com/born-ml/classhead/internal/store"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrItemNotFound is returned by an ItemSource for an unknown item id.
var ErrItemNotFound = errors.New("item not found")

// ItemSource loads a batch for a list of item ids. Decoding and batching of
// images happen behind this interface.
type ItemSource interface {
	// Load returns a tensor whose leading dimension is len(ids), in order.
	Load(ctx context.Context, ids []string) (*tensor.Tensor, error)
	// FeatureVectors reports whether Load returns feature vectors rather
	// than raw input for the feature extractor.
	FeatureVectors() bool
}

// FeatureFiles serves precomputed feature vectors stored as JSON arrays in
// <id>.json files.
type FeatureFiles struct {
	fs afero.Fs
}

// NewFeatureFiles returns a source reading from dir on the OS filesystem.
func NewFeatureFiles(dir string) *FeatureFiles {
	return NewFeatureFilesFrom(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewFeatureFilesFrom wraps an existing afero filesystem.
func NewFeatureFilesFrom(fs afero.Fs) *FeatureFiles {
	return &FeatureFiles{fs: fs}
}

// FeatureVectors implements ItemSource.
func (f *FeatureFiles) FeatureVectors() bool {
	return true
}

// Load implements ItemSource. Every vector must have the same length.
func (f *FeatureFiles) Load(ctx context.Context, ids []string) (*tensor.Tensor, error) {
	var (
		dim  = -1
		data []float32
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := f.read(id)
		if err != nil {
			return nil, err
		}
		if dim >= 0 && len(vec) != dim {
			return nil, errors.Errorf("item %q has %d features, expected %d", id, len(vec), dim)
		}
		dim = len(vec)
		data = append(data, vec...)
	}
	if dim < 0 {
		dim = 0
	}
	return tensor.New(tensor.Shape{len(ids), dim}, data)
}

func (f *FeatureFiles) read(id string) ([]float32, error) {
	name, err := store.CleanKey(id + ".json")
	if err != nil {
		return nil, errors.Wrapf(ErrItemNotFound, "invalid item id %q", id)
	}
	raw, err := afero.ReadFile(f.fs, "/"+name)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrItemNotFound, "%q", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading item %q", id)
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, errors.Wrapf(err, "error decoding item %q", id)
	}
	return vec, nil
}
