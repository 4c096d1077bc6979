package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense, row-major float32 tensor.
//
// Tensors are treated as values: operations that change contents return a
// new tensor and leave the receiver untouched. Data exposes the backing
// slice for read access and for filling freshly created tensors only.
type Tensor struct {
	shape Shape
	data  []float32
}

// New creates a tensor from a shape and its row-major data.
//
// The data slice is copied.
func New(shape Shape, data []float32) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	buf := make([]float32, len(data))
	copy(buf, data)
	return &Tensor{shape: shape.Clone(), data: buf}, nil
}

// MustNew is like New but panics on error. Intended for literals in tests and
// static tables.
func MustNew(shape Shape, data []float32) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	if err := shape.Validate(); err != nil {
		panic(err)
	}
	return &Tensor{shape: shape.Clone(), data: make([]float32, shape.NumElements())}
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the backing slice.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	buf := make([]float32, len(t.data))
	copy(buf, t.data)
	return &Tensor{shape: t.shape.Clone(), data: buf}
}

// Reshape returns a copy of the tensor with a new shape holding the same
// number of elements. A single -1 dimension is inferred.
func (t *Tensor) Reshape(dims ...int) (*Tensor, error) {
	shape := make(Shape, len(dims))
	copy(shape, dims)

	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				return nil, fmt.Errorf("reshape %v: only one dimension may be -1", dims)
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, fmt.Errorf("reshape %v: cannot infer dimension for %d elements", dims, len(t.data))
		}
		shape[infer] = len(t.data) / known
	}

	if shape.NumElements() != len(t.data) {
		return nil, fmt.Errorf("reshape %v -> %v: element count mismatch", t.shape, shape)
	}
	return New(shape, t.data)
}

// Row returns a copy of row i of a 2D tensor.
func (t *Tensor) Row(i int) []float32 {
	t.mustBe2D("Row")
	cols := t.shape[1]
	row := make([]float32, cols)
	copy(row, t.data[i*cols:(i+1)*cols])
	return row
}

// Equal reports whether both tensors have the same shape and bit-identical data.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	for i, v := range t.data {
		if math.Float32bits(v) != math.Float32bits(other.data[i]) {
			return false
		}
	}
	return true
}

// AllClose reports whether both tensors have the same shape and every pair of
// elements differs by at most tol.
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	for i, v := range t.data {
		if math.Abs(float64(v)-float64(other.data[i])) > tol {
			return false
		}
	}
	return true
}

// String returns a short description.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

func (t *Tensor) mustBe2D(op string) {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor.%s: expected 2D tensor, got shape %v", op, t.shape))
	}
}
