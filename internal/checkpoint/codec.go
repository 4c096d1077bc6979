package checkpoint

import (
	"bytes"
	"io"

	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/serialization"
	"github.com/pkg/errors"
)

// ErrMissingLabelMap is returned when a stored checkpoint has no label class map.
var ErrMissingLabelMap = errors.New("checkpoint has no label class map")

// EncodeOptions configures Encode.
type EncodeOptions struct {
	Compress bool
	Metadata map[string]string
}

// Encode writes c to w in the binary checkpoint format.
func Encode(w io.Writer, c *Checkpoint, opts EncodeOptions) error {
	extractor := c.extractor
	pretrained := c.pretrained
	header := serialization.Header{
		LabelClassMap:    c.labels.Map(),
		FeatureExtractor: &extractor,
		Pretrained:       &pretrained,
		Metadata:         opts.Metadata,
	}
	if err := serialization.Write(w, header, c.shared(), serialization.WriteOptions{Compress: opts.Compress}); err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	return nil
}

// Marshal encodes c into a byte slice.
func Marshal(c *Checkpoint, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, c, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a checkpoint from r.
//
// A missing feature extractor identifier defaults to backbone.DefaultID and
// a missing pretrained flag to DefaultPretrained, so checkpoints written
// before those fields existed still load.
func Decode(r io.Reader) (*Checkpoint, error) {
	rec, err := serialization.Read(r, serialization.ReaderOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return fromRecord(rec)
}

// Unmarshal decodes a checkpoint held in memory.
func Unmarshal(data []byte) (*Checkpoint, error) {
	rec, err := serialization.Parse(data, serialization.ReaderOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return fromRecord(rec)
}

func fromRecord(rec *serialization.Record) (*Checkpoint, error) {
	h := rec.Header
	if h.LabelClassMap == nil {
		return nil, ErrMissingLabelMap
	}
	lm, err := labels.New(h.LabelClassMap)
	if err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}

	extractor := backbone.DefaultID
	if h.FeatureExtractor != nil {
		extractor = *h.FeatureExtractor
	}
	pretrained := DefaultPretrained
	if h.Pretrained != nil {
		pretrained = *h.Pretrained
	}

	return &Checkpoint{
		params:     rec.Tensors,
		labels:     lm,
		extractor:  extractor,
		pretrained: pretrained,
	}, nil
}
