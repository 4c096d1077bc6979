package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes      = "CKPT"
	FormatVersion   = 1
	HeaderAlignment = 64   // Align tensor data to 64 bytes
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
)

// DTypeFloat32 is the only element type stored in checkpoints.
const DTypeFloat32 = "float32"

// Flags for the fixed header.
const (
	FlagCompressed  uint32 = 1 << 0 // bit 0: snappy-compressed payload
	FlagHasMetadata uint32 = 1 << 1 // bit 1: custom metadata included
)

// Header is the JSON header of a checkpoint file.
//
// LabelClassMap is required. FeatureExtractor and Pretrained are optional;
// files written before those fields existed omit them and readers substitute
// defaults.
type Header struct {
	FormatVersion    int               `json:"format_version"`
	CreatedAt        time.Time         `json:"created_at"`
	Tensors          []TensorMeta      `json:"tensors"`
	LabelClassMap    map[string]int    `json:"label_class_map"`
	FeatureExtractor *string           `json:"feature_extractor,omitempty"`
	Pretrained       *bool             `json:"pretrained,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// TensorMeta describes one tensor in the payload.
type TensorMeta struct {
	Name   string `json:"name"`   // Parameter name (e.g., "classifier.weight")
	DType  string `json:"dtype"`  // Element type, always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the uncompressed payload
	Size   int64  `json:"size"`   // Size in bytes
}
