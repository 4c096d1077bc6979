package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/born-ml/classhead/internal/tensor"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// WriteOptions configures Write.
type WriteOptions struct {
	Compress bool // snappy-compress the tensor payload
}

// Write encodes a header and its tensors to w.
//
// Layout:
//
//	0x00-0x03  magic "CKPT"
//	0x04-0x07  version (uint32 LE)
//	0x08-0x0B  flags (uint32 LE)
//	0x0C-0x0F  reserved
//	0x10-0x17  JSON header size (uint64 LE)
//	0x18-0x1F  stored payload size (uint64 LE)
//	0x20-0x3F  SHA-256 of the stored payload
//	0x40-      JSON header, zero padding to 64 bytes, payload
//
// Tensors are laid out in name order so equal inputs encode identically
// apart from CreatedAt. The Tensors field of header is overwritten.
func Write(w io.Writer, header Header, tensors map[string]*tensor.Tensor, opts WriteOptions) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header.FormatVersion = FormatVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.LabelClassMap == nil {
		header.LabelClassMap = make(map[string]int)
	}

	var payload bytes.Buffer
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		t := tensors[name]
		data := t.Bytes()
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  DTypeFloat32,
			Shape:  []int(t.Shape()),
			Offset: int64(payload.Len()),
			Size:   int64(len(data)),
		})
		payload.Write(data)
	}

	flags := uint32(0)
	stored := payload.Bytes()
	if opts.Compress {
		stored = snappy.Encode(nil, stored)
		flags |= FlagCompressed
	}
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}

	checksum := ComputeChecksum(stored)

	fixedHeader := make([]byte, FixedHeaderSize)
	copy(fixedHeader[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixedHeader[4:8], uint32(FormatVersion))
	binary.LittleEndian.PutUint32(fixedHeader[8:12], flags)
	binary.LittleEndian.PutUint64(fixedHeader[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixedHeader[24:32], uint64(len(stored)))
	copy(fixedHeader[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	var out bytes.Buffer
	out.Write(fixedHeader)
	out.Write(headerJSON)
	out.Write(make([]byte, padding(FixedHeaderSize+len(headerJSON))))
	out.Write(stored)

	if _, err := w.Write(out.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write checkpoint")
	}
	return nil
}

// padding returns the number of zero bytes needed after pos to reach the
// next HeaderAlignment boundary.
func padding(pos int) int {
	return (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
}
