// Package nn implements the neural network modules the meta-learner trains.
//
// This package provides:
//   - Module interface: Forward, Parameters and structural Clone
//   - Parameter: trainable tensor with a gradient buffer
//   - Linear, ReLU, Flatten and Sequential
//   - Criteria: CrossEntropyLoss and BCEWithLogitsLoss
//   - Backward: run the tape and fold gradients into parameter buffers
package nn

import (
	"fmt"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Parameters must be returned in a stable order, and Clone must produce a
// module whose Parameters() line up position by position with the source.
// The meta-gradient aggregation relies on that alignment.
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor) *tensor.Tensor

	// Parameters returns all trainable parameters in a deterministic order.
	Parameters() []*Parameter

	// Clone returns a structurally identical module with freshly copied
	// parameter tensors and empty gradients.
	Clone() Module
}

// Backward differentiates loss and accumulates the gradient of every
// parameter that took part in the computation into its buffer.
//
// The engine's tape is cleared afterwards.
func Backward(engine *autodiff.Engine, loss *tensor.Tensor, params []*Parameter) error {
	grads, err := engine.Backward(loss)
	if err != nil {
		return err
	}
	for _, p := range params {
		g, ok := grads[p.Tensor()]
		if !ok {
			continue
		}
		if err := p.AccumulateGrad(g); err != nil {
			return err
		}
	}
	return nil
}

// CountParameters returns the total number of scalar weights.
func CountParameters(m Module) int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

// StateDict returns the parameters of m keyed by "<index>.<name>" in
// parameter order.
func StateDict(m Module) map[string]*tensor.Tensor {
	params := m.Parameters()
	out := make(map[string]*tensor.Tensor, len(params))
	for i, p := range params {
		out[StateKey(i, p)] = p.Tensor()
	}
	return out
}

// StateKey is the state dict key of the i-th parameter.
func StateKey(i int, p *Parameter) string {
	return fmt.Sprintf("%d.%s", i, p.Name())
}

// LoadStateDict copies tensors from state into the parameters of m.
func LoadStateDict(m Module, state map[string]*tensor.Tensor) error {
	for i, p := range m.Parameters() {
		key := StateKey(i, p)
		src, ok := state[key]
		if !ok {
			return fmt.Errorf("missing %q in state dict", key)
		}
		if !src.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("%q: %w: expected %v, got %v",
				key, tensor.ErrShapeMismatch, p.Tensor().Shape(), src.Shape())
		}
		copy(p.Tensor().Data(), src.Data())
	}
	return nil
}
