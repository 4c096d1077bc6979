package backbone

import (
	"context"
	"testing"

	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDimensions(t *testing.T) {
	r := NewRegistry()

	tests := map[string]int{
		"resnet18":  512,
		"resnet34":  512,
		"resnet50":  2048,
		"resnet101": 2048,
		"resnet152": 2048,
	}
	for id, want := range tests {
		dim, err := r.Dim(id)
		require.NoError(t, err, id)
		assert.Equal(t, want, dim, id)
	}
	assert.Equal(t, []string{"resnet101", "resnet152", "resnet18", "resnet34", "resnet50"}, r.IDs())

	_, err := r.Dim(DefaultID)
	assert.NoError(t, err)
}

func TestUnknownBackbone(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dim("vgg16")
	assert.True(t, errors.Is(err, ErrUnknownBackbone))

	_, err = r.New("vgg16", true)
	assert.True(t, errors.Is(err, ErrUnknownBackbone))

	assert.True(t, errors.Is(r.Attach("vgg16", nil), ErrUnknownBackbone))
}

func TestBuiltinConstructorsAreUnattached(t *testing.T) {
	_, err := NewRegistry().New("resnet18", true)
	assert.True(t, errors.Is(err, ErrBackboneUnavailable))
}

func TestAttach(t *testing.T) {
	r := NewRegistry()
	var gotPretrained bool
	require.NoError(t, r.Attach("resnet18", func(pretrained bool) (Extractor, error) {
		gotPretrained = pretrained
		return ExtractorFunc(func(_ context.Context, in *tensor.Tensor) (*tensor.Tensor, error) {
			return tensor.Zeros(tensor.Shape{in.Dim(0), 512}), nil
		}), nil
	}))

	ext, err := r.New("resnet18", true)
	require.NoError(t, err)
	assert.True(t, gotPretrained)

	out, err := ext.Extract(context.Background(), tensor.Zeros(tensor.Shape{3, 3, 8, 8}))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 512}, out.Shape())

	dim, err := r.Dim("resnet18")
	require.NoError(t, err)
	assert.Equal(t, 512, dim, "Attach keeps the registered dimension")
}

func TestRegisterCustom(t *testing.T) {
	r := NewRegistry()
	r.Register("tiny", 4, func(bool) (Extractor, error) { return nil, nil })

	dim, err := r.Dim("tiny")
	require.NoError(t, err)
	assert.Equal(t, 4, dim)
}
