package ops

import (
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// ReLUOp records out = max(0, x).
type ReLUOp struct {
	input, output *tensor.Tensor
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.Tensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Inputs returns [x].
func (op *ReLUOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.input} }

// Output returns ReLU(x).
func (op *ReLUOp) Output() *tensor.Tensor { return op.output }

// Backward masks the gradient with x > 0.
func (op *ReLUOp) Backward(grad *tensor.Tensor, _ *cpu.Backend) []*tensor.Tensor {
	out := grad.Clone()
	od, xd := out.Data(), op.input.Data()
	for i := range od {
		if xd[i] <= 0 {
			od[i] = 0
		}
	}
	return []*tensor.Tensor{out}
}
