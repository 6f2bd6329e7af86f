package nn

import (
	"math/rand"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// Sequential is a container that chains modules in order.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewFlatten(engine),
//	    nn.NewLinear(784, 128, engine, rng),
//	    nn.NewReLU(engine),
//	    nn.NewLinear(128, 10, engine, rng),
//	)
type Sequential struct {
	modules []Module
}

// NewSequential creates a Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward passes input through every module in order.
func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	output := input
	for _, m := range s.modules {
		output = m.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all modules, in module order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Clone clones every submodule.
func (s *Sequential) Clone() Module {
	modules := make([]Module, len(s.modules))
	for i, m := range s.modules {
		modules[i] = m.Clone()
	}
	return &Sequential{modules: modules}
}

// Len returns the number of modules.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at index.
func (s *Sequential) Module(index int) Module {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}

// NewMLP builds Flatten → (Linear → ReLU)* → Linear.
//
// hidden lists the hidden layer widths; an empty list gives a linear model.
func NewMLP(inFeatures int, hidden []int, outFeatures int, engine *autodiff.Engine, rng *rand.Rand) *Sequential {
	modules := []Module{NewFlatten(engine)}
	in := inFeatures
	for _, h := range hidden {
		modules = append(modules, NewLinear(in, h, engine, rng), NewReLU(engine))
		in = h
	}
	modules = append(modules, NewLinear(in, outFeatures, engine, rng))
	return NewSequential(modules...)
}
