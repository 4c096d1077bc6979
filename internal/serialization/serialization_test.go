package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/born-ml/classhead/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTensors() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"classifier.weight": tensor.MustNew(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
		"classifier.bias":   tensor.MustNew(tensor.Shape{2}, []float32{-0.5, 0.25}),
	}
}

func encode(t *testing.T, h Header, tensors map[string]*tensor.Tensor, opts WriteOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, h, tensors, opts))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	extractor := "resnet18"
	pretrained := false
	h := Header{
		LabelClassMap:    map[string]int{"cat": 0, "dog": 1},
		FeatureExtractor: &extractor,
		Pretrained:       &pretrained,
		Metadata:         map[string]string{"worker": "w1"},
	}

	for _, compress := range []bool{false, true} {
		data := encode(t, h, sampleTensors(), WriteOptions{Compress: compress})

		flags := binary.LittleEndian.Uint32(data[8:12])
		assert.Equal(t, compress, flags&FlagCompressed != 0)
		assert.NotZero(t, flags&FlagHasMetadata)

		rec, err := Read(bytes.NewReader(data), ReaderOptions{})
		require.NoError(t, err)

		assert.Equal(t, FormatVersion, rec.Header.FormatVersion)
		assert.Equal(t, map[string]int{"cat": 0, "dog": 1}, rec.Header.LabelClassMap)
		require.NotNil(t, rec.Header.FeatureExtractor)
		assert.Equal(t, "resnet18", *rec.Header.FeatureExtractor)
		require.NotNil(t, rec.Header.Pretrained)
		assert.False(t, *rec.Header.Pretrained)
		assert.Equal(t, "w1", rec.Header.Metadata["worker"])
		assert.False(t, rec.Header.CreatedAt.IsZero())

		require.Len(t, rec.Tensors, 2)
		for name, want := range sampleTensors() {
			assert.True(t, want.Equal(rec.Tensors[name]), name)
		}
	}
}

func TestPayloadIsAligned(t *testing.T) {
	data := encode(t, Header{}, sampleTensors(), WriteOptions{})
	headerSize := int(binary.LittleEndian.Uint64(data[16:24]))
	payloadSize := int(binary.LittleEndian.Uint64(data[24:32]))

	offset := FixedHeaderSize + headerSize + padding(FixedHeaderSize+headerSize)
	assert.Zero(t, offset%HeaderAlignment)
	assert.Equal(t, len(data), offset+payloadSize)
}

func TestOptionalFieldsOmitted(t *testing.T) {
	data := encode(t, Header{LabelClassMap: map[string]int{"a": 0}}, sampleTensors(), WriteOptions{})

	rec, err := Parse(data, ReaderOptions{})
	require.NoError(t, err)
	assert.Nil(t, rec.Header.FeatureExtractor)
	assert.Nil(t, rec.Header.Pretrained)
}

func TestEmptyLabelMapIsPresent(t *testing.T) {
	data := encode(t, Header{}, map[string]*tensor.Tensor{
		"classifier.weight": tensor.Zeros(tensor.Shape{0, 4}),
		"classifier.bias":   tensor.Zeros(tensor.Shape{0}),
	}, WriteOptions{})

	rec, err := Parse(data, ReaderOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec.Header.LabelClassMap, "an empty map must survive as {} rather than null")
	assert.Empty(t, rec.Header.LabelClassMap)
	assert.Equal(t, tensor.Shape{0, 4}, rec.Tensors["classifier.weight"].Shape())
}

func TestChecksumMismatch(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data := encode(t, Header{}, sampleTensors(), WriteOptions{Compress: compress})
		data[len(data)-1] ^= 0xff

		_, err := Parse(data, ReaderOptions{})
		assert.True(t, errors.Is(err, ErrChecksumMismatch), "compress=%v: %v", compress, err)
	}
}

func TestSkipChecksumValidation(t *testing.T) {
	data := encode(t, Header{}, sampleTensors(), WriteOptions{})
	data[ChecksumOffset] ^= 0xff

	_, err := Parse(data, ReaderOptions{SkipChecksumValidation: true})
	assert.NoError(t, err)
}

func TestInvalidMagicAndVersion(t *testing.T) {
	data := encode(t, Header{}, sampleTensors(), WriteOptions{})

	bad := append([]byte(nil), data...)
	copy(bad, "BORN")
	_, err := Parse(bad, ReaderOptions{})
	assert.True(t, errors.Is(err, ErrInvalidMagic))

	bad = append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(bad[4:8], 99)
	_, err = Parse(bad, ReaderOptions{})
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestTruncated(t *testing.T) {
	data := encode(t, Header{}, sampleTensors(), WriteOptions{})

	_, err := Parse(data[:10], ReaderOptions{})
	assert.True(t, errors.Is(err, ErrTruncated))

	_, err = Parse(data[:len(data)-4], ReaderOptions{})
	assert.True(t, errors.Is(err, ErrTruncated))
}

func TestOversizedPayloadSize(t *testing.T) {
	for _, size := range []uint64{^uint64(0), ^uint64(0) - 63, 1 << 63} {
		data := encode(t, Header{}, sampleTensors(), WriteOptions{})
		binary.LittleEndian.PutUint64(data[24:32], size)

		var err error
		assert.NotPanics(t, func() {
			_, err = Parse(data, ReaderOptions{})
		})
		assert.True(t, errors.Is(err, ErrTruncated), "size %d: %v", size, err)
	}
}

func TestWriteRejectsBadNames(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Header{}, map[string]*tensor.Tensor{"../escape": tensor.Zeros(tensor.Shape{1})}, WriteOptions{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

// rewriteHeader replaces the JSON header of an encoded file, keeping the
// original payload and checksum.
func rewriteHeader(t *testing.T, data []byte, mutate func(*Header)) []byte {
	t.Helper()
	headerSize := int(binary.LittleEndian.Uint64(data[16:24]))
	payloadOffset := FixedHeaderSize + headerSize + padding(FixedHeaderSize+headerSize)

	var h Header
	require.NoError(t, json.Unmarshal(data[FixedHeaderSize:FixedHeaderSize+headerSize], &h))
	mutate(&h)
	headerJSON, err := json.Marshal(h)
	require.NoError(t, err)

	fixed := append([]byte(nil), data[:FixedHeaderSize]...)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))

	out := append(fixed, headerJSON...)
	out = append(out, make([]byte, padding(FixedHeaderSize+len(headerJSON)))...)
	return append(out, data[payloadOffset:]...)
}

func TestValidationErrors(t *testing.T) {
	data := encode(t, Header{}, sampleTensors(), WriteOptions{})

	tests := []struct {
		name     string
		mutate   func(*Header)
		wantType string
		wantErr  error
	}{
		{"overlap", func(h *Header) { h.Tensors[1].Offset = 0 }, "offset_overlap", ErrOffsetOverlap},
		{"out of bounds", func(h *Header) { h.Tensors[1].Offset = 1 << 20 }, "out_of_bounds", ErrOutOfBounds},
		{"dtype", func(h *Header) { h.Tensors[0].DType = "int8" }, "unsupported_dtype", nil},
		{"size", func(h *Header) { h.Tensors[0].Shape = []int{3} }, "size_mismatch", nil},
		{"duplicate", func(h *Header) { h.Tensors[1].Name = h.Tensors[0].Name }, "duplicate_name", nil},
		{"path name", func(h *Header) { h.Tensors[0].Name = "a/b" }, "invalid_name", nil},
		{"element count overflow", func(h *Header) {
			h.Tensors[0].Shape = []int{1 << 62, 4}
			h.Tensors[0].Size = 0
		}, "invalid_shape", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(rewriteHeader(t, data, tt.mutate), ReaderOptions{})
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.wantType, verr.Type)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}
