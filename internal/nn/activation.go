package nn

import (
	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// ReLU applies max(0, x) elementwise.
type ReLU struct {
	engine *autodiff.Engine
}

// NewReLU creates a ReLU activation.
func NewReLU(engine *autodiff.Engine) *ReLU {
	return &ReLU{engine: engine}
}

// Forward applies ReLU.
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	return r.engine.ReLU(input)
}

// Parameters returns nil.
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// Clone returns a new ReLU on the same engine.
func (r *ReLU) Clone() Module {
	return &ReLU{engine: r.engine}
}

// Flatten reshapes [batch, d1, d2, ...] to [batch, d1*d2*...].
type Flatten struct {
	engine *autodiff.Engine
}

// NewFlatten creates a Flatten module.
func NewFlatten(engine *autodiff.Engine) *Flatten {
	return &Flatten{engine: engine}
}

// Forward flattens every dimension after the first.
func (f *Flatten) Forward(input *tensor.Tensor) *tensor.Tensor {
	s := input.Shape()
	if len(s) == 2 {
		return input
	}
	if len(s) < 2 {
		return f.engine.Reshape(input, tensor.Shape{1, input.NumElements()})
	}
	return f.engine.Reshape(input, tensor.Shape{s[0], input.NumElements() / s[0]})
}

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter {
	return nil
}

// Clone returns a new Flatten on the same engine.
func (f *Flatten) Clone() Module {
	return &Flatten{engine: f.engine}
}
