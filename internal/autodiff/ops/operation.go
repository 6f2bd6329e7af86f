// Package ops defines the differentiable operations recorded on the gradient
// tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and maps an output gradient to one gradient per input:
//   - MatMulOp: d(A@B)/dA = grad@B^T, d(A@B)/dB = A^T@grad
//   - TransposeOp: grad^T
//   - AddRowOp: grad flows to the matrix, column sums to the row
//   - ReLUOp: grad where x > 0
//   - ReshapeOp: grad reshaped back
//   - CrossEntropyOp: (softmax - one_hot) / batch
//   - BCEWithLogitsOp: (sigmoid - y) / n
package ops

import (
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// A nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.Tensor, backend *cpu.Backend) []*tensor.Tensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.Tensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.Tensor
}
