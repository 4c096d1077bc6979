package serialization

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// maxElements is the largest element count whose float32 byte size fits in
// an int64.
const maxElements = math.MaxInt64 / 4

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", t.Offset, t.Size),
			}
		}

		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Err:     ErrOutOfBounds,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Err:     ErrOffsetOverlap,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateTensorName rejects empty, oversized, and path-like tensor names.
func ValidateTensorName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Type: "invalid_name", Details: "empty tensor name"}
	case len(name) > MaxTensorNameLen:
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	case strings.Contains(name, ".."):
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: "contains '..'"}
	case strings.ContainsAny(name, "/\\\x00"):
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: "contains path separator or null byte"}
	}
	return nil
}

// ValidateTensorMeta checks that a tensor entry is a float32 tensor whose
// byte size matches its shape.
func ValidateTensorMeta(t TensorMeta) error {
	if t.DType != DTypeFloat32 {
		return &ValidationError{Type: "unsupported_dtype", Tensor: t.Name, Details: t.DType}
	}
	n := int64(1)
	for _, d := range t.Shape {
		if d < 0 {
			return &ValidationError{Type: "invalid_shape", Tensor: t.Name, Details: fmt.Sprint(t.Shape)}
		}
		if d > 0 && n > maxElements/int64(d) {
			return &ValidationError{
				Type:    "invalid_shape",
				Tensor:  t.Name,
				Details: fmt.Sprintf("element count of %v overflows", t.Shape),
			}
		}
		n *= int64(d)
	}
	if n*4 != t.Size {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  t.Name,
			Details: fmt.Sprintf("shape %v needs %d bytes, entry says %d", t.Shape, n*4, t.Size),
		}
	}
	return nil
}

// ValidateHeader performs header validation against the payload size.
func ValidateHeader(h *Header, dataSize int64) error {
	seen := make(map[string]struct{}, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if _, ok := seen[t.Name]; ok {
			return &ValidationError{Type: "duplicate_name", Tensor: t.Name, Details: "tensor listed twice"}
		}
		seen[t.Name] = struct{}{}
		if err := ValidateTensorMeta(t); err != nil {
			return err
		}
	}
	return ValidateTensorOffsets(h.Tensors, dataSize)
}
