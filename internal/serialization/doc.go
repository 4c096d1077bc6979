// Package serialization implements the binary checkpoint file format.
//
//	Format Structure:
//	  [64 bytes: fixed header - magic "CKPT", version, flags, sizes, SHA-256]
//	  [Header: JSON metadata - tensors, label class map, extractor, pretrained]
//	  [Padding: zeros up to a 64-byte boundary]
//	  [Payload: little-endian float32 tensor data, optionally snappy-compressed]
//
// The checksum covers the payload exactly as stored, so corruption is caught
// before decompression. Readers validate tensor names, dtypes, sizes and
// offsets before slicing the payload.
//
// Example usage:
//
//	var buf bytes.Buffer
//	err := serialization.Write(&buf, header, tensors, serialization.WriteOptions{Compress: true})
//
//	rec, err := serialization.Read(&buf, serialization.ReaderOptions{})
package serialization
