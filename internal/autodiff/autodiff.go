// Package autodiff implements reverse-mode automatic differentiation on top
// of the CPU backend.
//
// Engine wraps a cpu.Backend the way a decorator wraps a backend: every op
// runs the wrapped kernel and, while the tape is recording, appends an
// ops.Operation so Backward can replay the chain rule.
//
// Usage:
//
//	engine := autodiff.New(cpu.New())
//	engine.Tape().StartRecording()
//	logits := model.Forward(x)
//	loss := engine.CrossEntropy(logits, y)
//	grads, err := engine.Backward(loss)
package autodiff

import (
	"errors"
	"fmt"

	"github.com/born-ml/fsmaml/internal/autodiff/ops"
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// ErrNotScalar is returned when Backward is called on a non-scalar tensor.
var ErrNotScalar = errors.New("backward requires a single-element output")

// Engine executes ops on a CPU backend and records them on a GradientTape.
type Engine struct {
	inner *cpu.Backend
	tape  *GradientTape
}

// New creates an Engine around backend. The tape starts recording.
func New(backend *cpu.Backend) *Engine {
	tape := NewGradientTape()
	tape.StartRecording()
	return &Engine{inner: backend, tape: tape}
}

// Tape returns the gradient tape for manual control.
func (e *Engine) Tape() *GradientTape {
	return e.tape
}

// Inner returns the wrapped backend.
func (e *Engine) Inner() *cpu.Backend {
	return e.inner
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return "Autodiff(" + e.inner.Name() + ")"
}

// NoGrad runs fn with recording disabled and restores the previous state.
func (e *Engine) NoGrad(fn func() error) error {
	wasRecording := e.tape.IsRecording()
	e.tape.StopRecording()
	defer func() {
		if wasRecording {
			e.tape.StartRecording()
		}
	}()
	return fn()
}

// Backward computes gradients of a single-element loss and clears the tape.
func (e *Engine) Backward(loss *tensor.Tensor) (Gradients, error) {
	defer e.tape.Clear()
	if loss.NumElements() != 1 {
		return nil, fmt.Errorf("autodiff: %w, got shape %v", ErrNotScalar, loss.Shape())
	}
	return e.tape.Backward(loss, e.inner), nil
}

// MatMul computes a @ b.
func (e *Engine) MatMul(a, b *tensor.Tensor) *tensor.Tensor {
	out := e.inner.MatMul(a, b)
	e.tape.Record(ops.NewMatMulOp(a, b, out))
	return out
}

// Transpose transposes a 2D tensor.
func (e *Engine) Transpose(a *tensor.Tensor) *tensor.Tensor {
	out := e.inner.Transpose(a)
	e.tape.Record(ops.NewTransposeOp(a, out))
	return out
}

// AddRow adds row to every row of x.
func (e *Engine) AddRow(x, row *tensor.Tensor) *tensor.Tensor {
	out := e.inner.AddRow(x, row)
	e.tape.Record(ops.NewAddRowOp(x, row, out))
	return out
}

// ReLU applies max(0, x).
func (e *Engine) ReLU(x *tensor.Tensor) *tensor.Tensor {
	out := e.inner.ReLU(x)
	e.tape.Record(ops.NewReLUOp(x, out))
	return out
}

// Reshape returns x with a new shape.
func (e *Engine) Reshape(x *tensor.Tensor, shape tensor.Shape) *tensor.Tensor {
	out := e.inner.Reshape(x, shape)
	e.tape.Record(ops.NewReshapeOp(x, out))
	return out
}

// CrossEntropy computes the mean softmax cross-entropy of logits against
// class-index targets.
func (e *Engine) CrossEntropy(logits, targets *tensor.Tensor) *tensor.Tensor {
	loss, probs := e.inner.CrossEntropy(logits, targets)
	e.tape.Record(ops.NewCrossEntropyOp(logits, targets, probs, loss))
	return loss
}

// BCEWithLogits computes the mean binary cross-entropy of raw logits
// against 0/1 targets.
func (e *Engine) BCEWithLogits(logits, targets *tensor.Tensor) *tensor.Tensor {
	loss, probs := e.inner.BCEWithLogits(logits, targets)
	e.tape.Record(ops.NewBCEWithLogitsOp(logits, targets, probs, loss))
	return loss
}
