package dataset

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/fsmaml/internal/tensor"
)

func idxImages(t *testing.T, n, rows, cols int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxImagesMagic, uint32(n), uint32(rows), uint32(cols)}))
	for i := 0; i < n*rows*cols; i++ {
		buf.WriteByte(byte(i % 256))
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, labels []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, uint32(len(labels))}))
	buf.Write(labels)
	return buf.Bytes()
}

func TestNewIDX_Normalizes(t *testing.T) {
	ds, err := NewIDX(bytes.NewReader(idxImages(t, 3, 2, 2)), bytes.NewReader(idxLabels(t, []byte{7, 1, 7})))
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	x, y, err := ds.At(1)
	require.NoError(t, err)
	assert.Equal(t, 1, y)
	assert.Equal(t, tensor.Shape{1, 2, 2}, x.Shape())

	// Second image starts at pixel value 4.
	want := (float32(4)/255 - MNISTMean) / MNISTStd
	assert.InDelta(t, want, x.Data()[0], 1e-6)
}

func TestNewIDX_BadMagic(t *testing.T) {
	bad := idxLabels(t, []byte{1})
	_, err := NewIDX(bytes.NewReader(bad), bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNewIDX_CountMismatch(t *testing.T) {
	_, err := NewIDX(bytes.NewReader(idxImages(t, 2, 2, 2)), bytes.NewReader(idxLabels(t, []byte{1})))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestLoadMNIST_Gzip(t *testing.T) {
	dir := t.TempDir()

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(idxImages(t, 2, 28, 28))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, mnistTestImages+".gz"), gz.Bytes(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, mnistTestLabels), idxLabels(t, []byte{3, 4}), 0o600))

	ds, err := LoadMNIST(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []int{3, 4}, ds.Labels())

	_, err = LoadMNIST(dir, true)
	assert.Error(t, err)
}

func TestClassIndex(t *testing.T) {
	ds, err := NewSynthetic(SyntheticConfig{Classes: 3, PerClass: 4, Dim: 2, Seed: 1})
	require.NoError(t, err)

	idx, err := NewClassIndex(ds)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx.Classes())
	assert.Equal(t, 3, idx.NumTasks())
	assert.Equal(t, 4, idx.MinCount())

	for _, c := range idx.Classes() {
		for _, i := range idx.Indices(c) {
			_, label, err := ds.At(i)
			require.NoError(t, err)
			assert.Equal(t, c, label)
		}
	}

	filtered, err := NewClassIndex(ds, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, filtered.Classes())

	_, err = NewClassIndex(ds, 9)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestSynthetic_Deterministic(t *testing.T) {
	a, err := NewSynthetic(SyntheticConfig{Seed: 42})
	require.NoError(t, err)
	b, err := NewSynthetic(SyntheticConfig{Seed: 42})
	require.NoError(t, err)
	require.Equal(t, 4*50, a.Len())

	for i := 0; i < a.Len(); i++ {
		xa, la, _ := a.At(i)
		xb, lb, _ := b.At(i)
		assert.Equal(t, la, lb)
		assert.True(t, xa.Equal(xb))
	}
}

func TestSubset(t *testing.T) {
	ds, err := NewSynthetic(SyntheticConfig{Classes: 2, PerClass: 3, Dim: 2})
	require.NoError(t, err)
	sub := NewSubset(ds, []int{5, 0})
	assert.Equal(t, 2, sub.Len())

	_, label, err := sub.At(0)
	require.NoError(t, err)
	assert.Equal(t, 1, label)

	_, _, err = sub.At(2)
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestOneVsRest(t *testing.T) {
	ds, err := NewSynthetic(SyntheticConfig{Classes: 3, PerClass: 2, Dim: 2})
	require.NoError(t, err)
	ovr := NewOneVsRest(ds, 1)
	require.Equal(t, ds.Len(), ovr.Len())

	var got []int
	for i := 0; i < ovr.Len(); i++ {
		_, y, err := ovr.At(i)
		require.NoError(t, err)
		got = append(got, y)
	}
	assert.Equal(t, []int{0, 1, 0, 0, 1, 0}, got)

	_, _, err = ovr.At(-1)
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestLoader_BatchesAndStream(t *testing.T) {
	ds, err := NewSynthetic(SyntheticConfig{Classes: 2, PerClass: 5, Dim: 3})
	require.NoError(t, err)

	loader := NewLoader(ds, LoaderConfig{BatchSize: 4, Workers: 3})
	require.Equal(t, 3, loader.Len())

	last, err := loader.Batch(2)
	require.NoError(t, err)
	assert.Equal(t, 2, last.Size())
	assert.Equal(t, tensor.Shape{2, 3}, last.X.Shape())

	var seen []int
	total := 0
	for r := range loader.Stream(context.Background()) {
		require.NoError(t, r.Err)
		seen = append(seen, r.Index)
		total += r.Value.Size()
	}
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, 10, total)

	_, err = loader.Batch(3)
	assert.ErrorIs(t, err, ErrIndexRange)
}
