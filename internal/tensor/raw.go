package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Float32Size is the encoded size of one element.
const Float32Size = 4

// Bytes encodes the tensor data as little-endian float32.
func (t *Tensor) Bytes() []byte {
	buf := make([]byte, len(t.data)*Float32Size)
	for i, v := range t.data {
		binary.LittleEndian.PutUint32(buf[i*Float32Size:], math.Float32bits(v))
	}
	return buf
}

// FromBytes decodes little-endian float32 data into a tensor of the given shape.
func FromBytes(shape Shape, b []byte) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	n := shape.NumElements()
	if len(b)%Float32Size != 0 || len(b)/Float32Size != n {
		return nil, fmt.Errorf("byte length %d does not match shape %v (%d elements)",
			len(b), shape, n)
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*Float32Size:]))
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}
