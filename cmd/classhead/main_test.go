package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/classhead/internal/checkpoint"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCheckpoint(t *testing.T, path string, weight []float32, pretrained bool) {
	t.Helper()
	head, err := nn.NewLinearFrom(
		tensor.MustNew(tensor.Shape{1, 2}, weight),
		tensor.Zeros(tensor.Shape{1}),
	)
	require.NoError(t, err)
	ckpt := checkpoint.Save(labels.MustFromNames("cat"), head, "resnet18", pretrained)

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, checkpoint.Encode(f, ckpt, checkpoint.EncodeOptions{}))
}

func TestAverageAndInspect(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "epoch-1.ckpt")
	b := filepath.Join(dir, "epoch-2.ckpt")
	out := filepath.Join(dir, "avg.ckpt")
	writeCheckpoint(t, a, []float32{1, 3}, true)
	writeCheckpoint(t, b, []float32{3, 5}, false)

	var buf bytes.Buffer
	require.NoError(t, average(&averageCmd{Out: out, Compress: true, Sources: []string{a, b}}, &buf))
	assert.Contains(t, buf.String(), "averaged 2 checkpoints")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	avg, err := checkpoint.Decode(f)
	require.NoError(t, err)
	w, _ := avg.Parameter(checkpoint.WeightParam)
	assert.Equal(t, []float32{2, 4}, w.Data())
	assert.False(t, avg.Pretrained(), "metadata comes from the last source")

	buf.Reset()
	require.NoError(t, inspect(&inspectCmd{Path: out}, &buf))
	assert.Contains(t, buf.String(), "feature extractor: resnet18")
	assert.Contains(t, buf.String(), "classes (1):")
	assert.Contains(t, buf.String(), "classifier.weight")
}

func TestAverage_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := average(&averageCmd{Out: filepath.Join(dir, "x"), Sources: []string{filepath.Join(dir, "nope")}}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInspect_NotACheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	junk := make([]byte, 128)
	rand.New(rand.NewSource(1)).Read(junk)
	require.NoError(t, os.WriteFile(path, junk, 0644))
	assert.Error(t, inspect(&inspectCmd{Path: path}, &bytes.Buffer{}))
}
