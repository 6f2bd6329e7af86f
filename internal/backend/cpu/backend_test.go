package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/fsmaml/internal/parallel"
	"github.com/born-ml/fsmaml/internal/tensor"
)

func mustTensor(t *testing.T, data []float32, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func assertData(t *testing.T, got *tensor.Tensor, want []float32, eps float64) {
	t.Helper()
	if got.NumElements() != len(want) {
		t.Fatalf("got %d elements, want %d", got.NumElements(), len(want))
	}
	for i, v := range want {
		if math.Abs(float64(got.Data()[i]-v)) > eps {
			t.Errorf("[%d] = %v, want %v", i, got.Data()[i], v)
		}
	}
}

func TestMatMul(t *testing.T) {
	b := NewWithConfig(parallel.Sequential())
	a := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	c := mustTensor(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})
	out := b.MatMul(a, c)
	if !out.Shape().Equal(tensor.Shape{2, 2}) {
		t.Fatalf("shape = %v", out.Shape())
	}
	assertData(t, out, []float32{58, 64, 139, 154}, 1e-6)
}

func TestMatMul_ParallelMatchesSequential(t *testing.T) {
	a := tensor.Randn(tensor.Shape{97, 13}, nil)
	c := tensor.Randn(tensor.Shape{13, 5}, nil)
	seq := NewWithConfig(parallel.Sequential()).MatMul(a, c)
	par := NewWithConfig(parallel.WithWorkers(4)).MatMul(a, c)
	if !seq.Equal(par) {
		t.Error("parallel MatMul differs from sequential")
	}
}

func TestMatMul_PanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New().MatMul(tensor.Zeros(tensor.Shape{2, 3}), tensor.Zeros(tensor.Shape{2, 3}))
}

func TestTransposeAddRowSumRows(t *testing.T) {
	b := New()
	a := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	assertData(t, b.Transpose(a), []float32{1, 4, 2, 5, 3, 6}, 0)

	row := mustTensor(t, []float32{10, 20, 30}, tensor.Shape{3})
	assertData(t, b.AddRow(a, row), []float32{11, 22, 33, 14, 25, 36}, 0)
	assertData(t, b.SumRows(a), []float32{5, 7, 9}, 0)
}

func TestReLU(t *testing.T) {
	x := mustTensor(t, []float32{-1, 0, 2}, tensor.Shape{3})
	assertData(t, New().ReLU(x), []float32{0, 0, 2}, 0)
	if x.Data()[0] != -1 {
		t.Error("ReLU must not modify its input")
	}
}

func TestCrossEntropy(t *testing.T) {
	b := New()
	logits := mustTensor(t, []float32{0, 0, 0, 0}, tensor.Shape{2, 2})
	targets := mustTensor(t, []float32{0, 1}, tensor.Shape{2})
	loss, probs := b.CrossEntropy(logits, targets)
	assertData(t, loss, []float32{float32(math.Log(2))}, 1e-6)
	assertData(t, probs, []float32{0.5, 0.5, 0.5, 0.5}, 1e-6)
}

func TestCrossEntropy_LargeLogitsStable(t *testing.T) {
	logits := mustTensor(t, []float32{1000, 0}, tensor.Shape{1, 2})
	targets := mustTensor(t, []float32{0}, tensor.Shape{1})
	loss, _ := New().CrossEntropy(logits, targets)
	if !loss.IsFinite() || loss.Item() > 1e-6 {
		t.Errorf("loss = %v", loss.Item())
	}
}

func TestBCEWithLogits(t *testing.T) {
	logits := mustTensor(t, []float32{0, 0}, tensor.Shape{2, 1})
	targets := mustTensor(t, []float32{1, 0}, tensor.Shape{2})
	loss, probs := New().BCEWithLogits(logits, targets)
	assertData(t, loss, []float32{float32(math.Log(2))}, 1e-6)
	assertData(t, probs, []float32{0.5, 0.5}, 1e-6)
}

func TestArgmax(t *testing.T) {
	if got := Argmax([]float32{0.1, 0.7, 0.7, 0.2}); got != 1 {
		t.Errorf("Argmax = %d, want 1", got)
	}
}
