package ops

import (
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// MatMulOp records out = a @ b.
type MatMulOp struct {
	a, b, output *tensor.Tensor
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.Tensor) *MatMulOp {
	return &MatMulOp{a: a, b: b, output: output}
}

// Inputs returns [a, b].
func (op *MatMulOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a, op.b} }

// Output returns a @ b.
func (op *MatMulOp) Output() *tensor.Tensor { return op.output }

// Backward computes grad @ b^T and a^T @ grad.
func (op *MatMulOp) Backward(grad *tensor.Tensor, backend *cpu.Backend) []*tensor.Tensor {
	gradA := backend.MatMul(grad, backend.Transpose(op.b))
	gradB := backend.MatMul(backend.Transpose(op.a), grad)
	return []*tensor.Tensor{gradA, gradB}
}

// TransposeOp records out = a^T for a 2D tensor.
type TransposeOp struct {
	input, output *tensor.Tensor
}

// NewTransposeOp creates a new TransposeOp.
func NewTransposeOp(input, output *tensor.Tensor) *TransposeOp {
	return &TransposeOp{input: input, output: output}
}

// Inputs returns [a].
func (op *TransposeOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.input} }

// Output returns a^T.
func (op *TransposeOp) Output() *tensor.Tensor { return op.output }

// Backward transposes the gradient back.
func (op *TransposeOp) Backward(grad *tensor.Tensor, backend *cpu.Backend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.Transpose(grad)}
}

// AddRowOp records out = x + row, with row broadcast over the batch.
type AddRowOp struct {
	x, row, output *tensor.Tensor
}

// NewAddRowOp creates a new AddRowOp.
func NewAddRowOp(x, row, output *tensor.Tensor) *AddRowOp {
	return &AddRowOp{x: x, row: row, output: output}
}

// Inputs returns [x, row].
func (op *AddRowOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.x, op.row} }

// Output returns x + row.
func (op *AddRowOp) Output() *tensor.Tensor { return op.output }

// Backward passes grad to x and reduces it over the batch for row.
func (op *AddRowOp) Backward(grad *tensor.Tensor, backend *cpu.Backend) []*tensor.Tensor {
	gradRow := backend.SumRows(grad)
	if !gradRow.Shape().Equal(op.row.Shape()) {
		gradRow = backend.Reshape(gradRow, op.row.Shape())
	}
	return []*tensor.Tensor{grad.Clone(), gradRow}
}

// ReshapeOp records out = reshape(x).
type ReshapeOp struct {
	input, output *tensor.Tensor
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.Tensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Inputs returns [x].
func (op *ReshapeOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.input} }

// Output returns the reshaped tensor.
func (op *ReshapeOp) Output() *tensor.Tensor { return op.output }

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(grad *tensor.Tensor, backend *cpu.Backend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.Reshape(grad, op.input.Shape())}
}
