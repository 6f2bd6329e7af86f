// Package cpu implements the float32 compute kernels used by the autodiff
// engine.
//
// Kernels never record anything; gradient tracking is layered on top by
// autodiff.Engine. Shape misuse is a programming error and panics, matching
// how the differentiable ops report it.
package cpu

import (
	"fmt"

	"github.com/born-ml/fsmaml/internal/parallel"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// Backend runs kernels on the host CPU.
type Backend struct {
	par parallel.Config
}

// New creates a CPU backend using one worker per logical CPU.
func New() *Backend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg parallel.Config) *Backend {
	return &Backend{par: cfg}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "CPU"
}

// Workers returns the number of kernel worker goroutines.
func (b *Backend) Workers() int {
	return b.par.NumWorkers
}

// MatMul computes a @ c for 2D tensors [m, k] @ [k, n] -> [m, n].
func (b *Backend) MatMul(a, c *tensor.Tensor) *tensor.Tensor {
	as, cs := a.Shape(), c.Shape()
	if len(as) != 2 || len(cs) != 2 || as[1] != cs[0] {
		panic(fmt.Sprintf("cpu.MatMul: incompatible shapes %v @ %v", as, cs))
	}
	m, k, n := as[0], as[1], cs[1]
	out := tensor.Zeros(tensor.Shape{m, n})
	ad, cd, od := a.Data(), c.Data(), out.Data()

	parallel.For(m, func(i int) {
		row := od[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := ad[i*k+p]
			if av == 0 {
				continue
			}
			crow := cd[p*n : (p+1)*n]
			for j := range row {
				row[j] += av * crow[j]
			}
		}
	}, b.par)

	return out
}

// Transpose swaps the two dimensions of a 2D tensor.
func (b *Backend) Transpose(a *tensor.Tensor) *tensor.Tensor {
	s := a.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("cpu.Transpose: expected 2D tensor, got %v", s))
	}
	rows, cols := s[0], s[1]
	out := tensor.Zeros(tensor.Shape{cols, rows})
	ad, od := a.Data(), out.Data()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			od[j*rows+i] = ad[i*cols+j]
		}
	}
	return out
}

// Add returns a + c for tensors of identical shape.
func (b *Backend) Add(a, c *tensor.Tensor) *tensor.Tensor {
	if !a.Shape().Equal(c.Shape()) {
		panic(fmt.Sprintf("cpu.Add: shape mismatch %v + %v", a.Shape(), c.Shape()))
	}
	out := a.Clone()
	od, cd := out.Data(), c.Data()
	for i := range od {
		od[i] += cd[i]
	}
	return out
}

// AddRow broadcasts a [n] row over every row of a [m, n] matrix.
func (b *Backend) AddRow(a, row *tensor.Tensor) *tensor.Tensor {
	s := a.Shape()
	if len(s) != 2 || row.NumElements() != s[1] {
		panic(fmt.Sprintf("cpu.AddRow: cannot broadcast %v over %v", row.Shape(), s))
	}
	out := a.Clone()
	od, rd := out.Data(), row.Data()
	n := s[1]
	for i := 0; i < s[0]; i++ {
		r := od[i*n : (i+1)*n]
		for j := range r {
			r[j] += rd[j]
		}
	}
	return out
}

// SumRows reduces a [m, n] matrix to its column sums of shape [n].
func (b *Backend) SumRows(a *tensor.Tensor) *tensor.Tensor {
	s := a.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("cpu.SumRows: expected 2D tensor, got %v", s))
	}
	n := s[1]
	out := tensor.Zeros(tensor.Shape{n})
	ad, od := a.Data(), out.Data()
	for i := 0; i < s[0]; i++ {
		for j := 0; j < n; j++ {
			od[j] += ad[i*n+j]
		}
	}
	return out
}

// ReLU computes max(0, x) elementwise.
func (b *Backend) ReLU(a *tensor.Tensor) *tensor.Tensor {
	out := a.Clone()
	od := out.Data()
	for i, v := range od {
		if v < 0 {
			od[i] = 0
		}
	}
	return out
}

// Reshape returns a copy of a with a new shape.
func (b *Backend) Reshape(a *tensor.Tensor, shape tensor.Shape) *tensor.Tensor {
	v, err := a.Clone().View(shape)
	if err != nil {
		panic(fmt.Sprintf("cpu.Reshape: %v", err))
	}
	return v
}

// Scale returns a * s.
func (b *Backend) Scale(a *tensor.Tensor, s float32) *tensor.Tensor {
	out := a.Clone()
	od := out.Data()
	for i := range od {
		od[i] *= s
	}
	return out
}
