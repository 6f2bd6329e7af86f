package nn

import (
	"fmt"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that require gradient computation during training.
// The grad buffer is nil until a backward pass (or an explicit SetGrad)
// fills it, and optimizers clear it back to nil with ZeroGrad.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
//	grad := weight.Grad() // nil before backward
type Parameter struct {
	name   string         // Parameter name (e.g., "weight", "bias")
	tensor *tensor.Tensor // The parameter tensor
	grad   *tensor.Tensor // Gradient buffer, nil when unset
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the gradient tensor, or nil if unset.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad replaces the gradient buffer.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// AccumulateGrad adds grad into the buffer, assigning it when unset.
func (p *Parameter) AccumulateGrad(grad *tensor.Tensor) error {
	if !grad.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("parameter %q: %w: grad %v for tensor %v",
			p.name, tensor.ErrShapeMismatch, grad.Shape(), p.tensor.Shape())
	}
	if p.grad == nil {
		p.grad = grad
		return nil
	}
	return p.grad.AddInPlace(grad)
}

// ZeroGrad clears the gradient buffer.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// Clone returns a parameter holding a deep copy of the tensor and no gradient.
func (p *Parameter) Clone() *Parameter {
	return &Parameter{name: p.name, tensor: p.tensor.Clone()}
}
