package checkpoint

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/serialization"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *backbone.Registry {
	r := backbone.NewRegistry()
	r.Register("tiny", 3, func(bool) (backbone.Extractor, error) { return nil, nil })
	return r
}

func TestSaveLoad(t *testing.T) {
	lm := labels.MustFromNames("cat", "dog")
	head := nn.NewLinear(3, 2, rand.New(rand.NewSource(1)))

	ckpt := Save(lm, head, "tiny", false)
	assert.Equal(t, []string{BiasParam, WeightParam}, ckpt.ParameterNames())
	assert.Equal(t, "tiny", ckpt.FeatureExtractor())
	assert.False(t, ckpt.Pretrained())
	assert.Equal(t, 2, ckpt.NumClasses())

	lm2, head2, err := Load(ckpt, testRegistry(), LoadOptions{Rand: rand.New(rand.NewSource(2))})
	require.NoError(t, err)
	assert.True(t, lm.Equal(lm2))
	assert.True(t, head.Equal(head2))
}

func TestCheckpointIsImmutable(t *testing.T) {
	lm := labels.MustFromNames("cat")
	head := nn.NewLinear(3, 1, nil)
	ckpt := Save(lm, head, "tiny", true)

	w, ok := ckpt.Parameter(WeightParam)
	require.True(t, ok)
	w.Data()[0] = 1000

	params := ckpt.Parameters()
	params[BiasParam].Data()[0] = 1000

	_, head2, err := Load(ckpt, testRegistry(), LoadOptions{})
	require.NoError(t, err)
	assert.True(t, head.Equal(head2))

	_, ok = ckpt.Parameter("missing")
	assert.False(t, ok)
}

func TestLoad_UnknownExtractor(t *testing.T) {
	ckpt := Save(labels.MustFromNames("cat"), nn.NewLinear(3, 1, nil), "vgg16", true)
	_, _, err := Load(ckpt, testRegistry(), LoadOptions{})
	assert.True(t, errors.Is(err, backbone.ErrUnknownBackbone), "got %v", err)
}

func TestLoad_DimensionMismatch(t *testing.T) {
	// Head built for 4 features but tagged with a 3-feature extractor.
	ckpt := Save(labels.MustFromNames("cat"), nn.NewLinear(4, 1, nil), "tiny", true)
	_, _, err := Load(ckpt, testRegistry(), LoadOptions{})
	assert.Error(t, err)
}

func TestLoad_NoHeadParametersBuildsFreshHead(t *testing.T) {
	ckpt := New(nil, labels.MustFromNames("cat", "dog", "bird"), "resnet18", true)

	lm, head, err := Load(ckpt, testRegistry(), LoadOptions{Rand: rand.New(rand.NewSource(3))})
	require.NoError(t, err)
	assert.Equal(t, 3, lm.Len())
	assert.Equal(t, 3, head.OutFeatures())
	assert.Equal(t, 512, head.InFeatures())
}

func TestLoad_AnchorsPerClass(t *testing.T) {
	ckpt := New(nil, labels.MustFromNames("cat", "dog"), "tiny", true)
	_, head, err := Load(ckpt, testRegistry(), LoadOptions{AnchorsPerClass: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, head.OutFeatures())

	// A stored one-anchor head does not fit a three-anchor layout.
	ckpt = Save(labels.MustFromNames("cat"), nn.NewLinear(3, 1, nil), "tiny", true)
	_, _, err = Load(ckpt, testRegistry(), LoadOptions{AnchorsPerClass: 3})
	assert.Error(t, err)
}

func TestLoad_KeepsExtraParameters(t *testing.T) {
	params := Save(labels.MustFromNames("cat"), nn.NewLinear(3, 1, nil), "tiny", true).Parameters()
	params["fe.conv1.weight"] = tensor.MustNew(tensor.Shape{2}, []float32{1, 2})
	ckpt := New(params, labels.MustFromNames("cat"), "tiny", true)

	data, err := Marshal(ckpt, EncodeOptions{})
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	fe, ok := decoded.Parameter("fe.conv1.weight")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, fe.Data())

	_, _, err = Load(decoded, testRegistry(), LoadOptions{})
	assert.NoError(t, err)
}

func TestEncodeDecode(t *testing.T) {
	lm := labels.MustFromNames("cat", "dog")
	head := nn.NewLinear(3, 2, rand.New(rand.NewSource(4)))
	ckpt := Save(lm, head, "tiny", false)

	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, ckpt, EncodeOptions{Compress: compress}))

		decoded, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, "tiny", decoded.FeatureExtractor())
		assert.False(t, decoded.Pretrained())
		assert.True(t, lm.Equal(decoded.Labels()))

		_, head2, err := Load(decoded, testRegistry(), LoadOptions{})
		require.NoError(t, err)
		assert.True(t, head.Equal(head2))
	}
}

// Files written without the optional metadata fields fall back to defaults.
func TestDecode_DefaultsForMissingMetadata(t *testing.T) {
	head := nn.NewLinear(2048, 2, rand.New(rand.NewSource(5)))
	tensors := map[string]*tensor.Tensor{
		WeightParam: head.Weight(),
		BiasParam:   head.Bias(),
	}

	var buf bytes.Buffer
	require.NoError(t, serialization.Write(&buf, serialization.Header{
		LabelClassMap: map[string]int{"cat": 0, "dog": 1},
	}, tensors, serialization.WriteOptions{}))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, backbone.DefaultID, decoded.FeatureExtractor())
	assert.Equal(t, DefaultPretrained, decoded.Pretrained())

	_, head2, err := Load(decoded, backbone.NewRegistry(), LoadOptions{})
	require.NoError(t, err)
	assert.True(t, head.Equal(head2))
}

func TestDecode_MissingLabelMap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, serialization.Write(&buf, serialization.Header{}, nil, serialization.WriteOptions{}))

	// The writer always emits a label map; rename the key in place so the
	// header length stays the same.
	data := bytes.Replace(buf.Bytes(), []byte(`"label_class_map"`), []byte(`"label_class_mop"`), 1)
	_, err := Unmarshal(data)
	assert.True(t, errors.Is(err, ErrMissingLabelMap), "got %v", err)
}

func TestDecode_NonContiguousLabelMap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, serialization.Write(&buf, serialization.Header{
		LabelClassMap: map[string]int{"cat": 0, "dog": 2},
	}, nil, serialization.WriteOptions{}))

	_, err := Decode(&buf)
	assert.True(t, errors.Is(err, labels.ErrNotContiguous), "got %v", err)
}
