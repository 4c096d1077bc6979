package serialization

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/born-ml/classhead/internal/tensor"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// ReaderOptions configures Read and Parse.
type ReaderOptions struct {
	SkipChecksumValidation bool // Skip checksum validation (faster but less safe)
}

// Record is a decoded checkpoint file.
type Record struct {
	Header  Header
	Tensors map[string]*tensor.Tensor
}

// Read decodes a checkpoint file from r.
func Read(r io.Reader, opts ReaderOptions) (*Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint")
	}
	return Parse(data, opts)
}

// Parse decodes a checkpoint file held in memory.
func Parse(data []byte, opts ReaderOptions) (*Record, error) {
	if len(data) < FixedHeaderSize {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes, need at least %d", len(data), FixedHeaderSize)
	}
	if string(data[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, expected %d", version, FormatVersion)
	}
	flags := binary.LittleEndian.Uint32(data[8:12])
	headerSize := binary.LittleEndian.Uint64(data[16:24])
	storedSize := binary.LittleEndian.Uint64(data[24:32])
	var stored [ChecksumSize]byte
	copy(stored[:], data[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	headerEnd := FixedHeaderSize + int(headerSize)
	if headerEnd > len(data) {
		return nil, errors.Wrap(ErrTruncated, "header")
	}

	var header Header
	if err := json.Unmarshal(data[FixedHeaderSize:headerEnd], &header); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	dataOffset := headerEnd + padding(headerEnd)
	if dataOffset > len(data) || storedSize > uint64(len(data)-dataOffset) {
		return nil, errors.Wrapf(ErrTruncated, "payload of %d bytes", storedSize)
	}
	payload := data[dataOffset : dataOffset+int(storedSize)]

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(payload), stored); err != nil {
			return nil, err
		}
	}

	if flags&FlagCompressed != 0 {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decompress payload")
		}
		payload = decoded
	}

	if err := ValidateHeader(&header, int64(len(payload))); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	tensors := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		t, err := tensor.FromBytes(tensor.Shape(meta.Shape), payload[meta.Offset:meta.Offset+meta.Size])
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %s", meta.Name)
		}
		tensors[meta.Name] = t
	}

	return &Record{Header: header, Tensors: tensors}, nil
}
