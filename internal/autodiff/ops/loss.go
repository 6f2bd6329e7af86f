package ops

import (
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// CrossEntropyOp records the fused softmax cross-entropy loss.
//
// Backward:
//
//	∂L/∂logits = (softmax(logits) - y_one_hot) / batch_size
//
// Targets receive no gradient.
type CrossEntropyOp struct {
	logits  *tensor.Tensor // [batch, classes]
	targets *tensor.Tensor // [batch] class indices
	probs   *tensor.Tensor // softmax(logits) from the forward pass
	output  *tensor.Tensor // [1]
}

// NewCrossEntropyOp creates a new CrossEntropyOp.
func NewCrossEntropyOp(logits, targets, probs, output *tensor.Tensor) *CrossEntropyOp {
	return &CrossEntropyOp{logits: logits, targets: targets, probs: probs, output: output}
}

// Inputs returns [logits].
func (op *CrossEntropyOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.logits} }

// Output returns the scalar loss.
func (op *CrossEntropyOp) Output() *tensor.Tensor { return op.output }

// Backward computes the logits gradient scaled by the upstream gradient.
func (op *CrossEntropyOp) Backward(grad *tensor.Tensor, _ *cpu.Backend) []*tensor.Tensor {
	s := op.logits.Shape()
	batch, classes := s[0], s[1]
	scale := grad.Data()[0] / float32(batch)

	out := op.probs.Clone()
	od, td := out.Data(), op.targets.Data()
	for i := 0; i < batch; i++ {
		od[i*classes+cpu.ClassIndex(td[i])] -= 1
	}
	for i := range od {
		od[i] *= scale
	}
	return []*tensor.Tensor{out}
}

// BCEWithLogitsOp records binary cross-entropy on raw logits.
//
// Backward:
//
//	∂L/∂z = (sigmoid(z) - y) / n
type BCEWithLogitsOp struct {
	logits  *tensor.Tensor
	targets *tensor.Tensor
	probs   *tensor.Tensor
	output  *tensor.Tensor
}

// NewBCEWithLogitsOp creates a new BCEWithLogitsOp.
func NewBCEWithLogitsOp(logits, targets, probs, output *tensor.Tensor) *BCEWithLogitsOp {
	return &BCEWithLogitsOp{logits: logits, targets: targets, probs: probs, output: output}
}

// Inputs returns [logits].
func (op *BCEWithLogitsOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.logits} }

// Output returns the scalar loss.
func (op *BCEWithLogitsOp) Output() *tensor.Tensor { return op.output }

// Backward computes the logits gradient scaled by the upstream gradient.
func (op *BCEWithLogitsOp) Backward(grad *tensor.Tensor, _ *cpu.Backend) []*tensor.Tensor {
	n := op.logits.NumElements()
	scale := grad.Data()[0] / float32(n)

	out := op.probs.Clone()
	od, td := out.Data(), op.targets.Data()
	for i := range od {
		od[i] = (od[i] - td[i]) * scale
	}
	return []*tensor.Tensor{out}
}
