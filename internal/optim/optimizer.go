// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Step, ZeroGrad, LR
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation
//   - Spec: closed {SGD, Adam} variant used to build fresh optimizers per task
//
// Optimizers read the gradient buffers of the parameters they were built
// with, so a backward pass that accumulates into those buffers is all Step
// needs.
//
// Example usage:
//
//	opt, err := optim.New(optim.Spec{Kind: optim.KindAdam, Adam: optim.AdamConfig{LR: 1e-3}}, model.Parameters())
//	loss := criterion.Forward(model.Forward(x), y)
//	err = nn.Backward(engine, loss, model.Parameters())
//	opt.Step()
//	opt.ZeroGrad()
package optim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/fsmaml/internal/nn"
)

// ErrUnsupportedOptimizer is returned for optimizer names outside {sgd, adam}.
var ErrUnsupportedOptimizer = errors.New("unsupported optimizer")

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters in-place.
	//
	// Parameters with a nil gradient buffer are skipped.
	Step()

	// ZeroGrad clears all parameter gradient buffers.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float32
}

// Kind tags the optimizer variant.
type Kind int

// Supported optimizer kinds.
const (
	KindSGD Kind = iota
	KindAdam
)

// String returns the lower-case config name.
func (k Kind) String() string {
	switch k {
	case KindSGD:
		return "sgd"
	case KindAdam:
		return "adam"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses an optimizer name, case-insensitively.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sgd":
		return KindSGD, nil
	case "adam":
		return KindAdam, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedOptimizer, name)
	}
}

// Spec describes how to build an optimizer. Only the config matching Kind
// is used.
type Spec struct {
	Kind Kind
	SGD  SGDConfig
	Adam AdamConfig
}

// FromName builds a Spec from a config-style name, learning rate and
// weight decay.
func FromName(name string, lr, weightDecay float32) (Spec, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{Kind: kind}
	switch kind {
	case KindSGD:
		spec.SGD = SGDConfig{LR: lr, WeightDecay: weightDecay}
	case KindAdam:
		spec.Adam = AdamConfig{LR: lr, WeightDecay: weightDecay}
	}
	return spec, nil
}

// LR returns the configured learning rate of the selected variant.
func (s Spec) LR() float32 {
	if s.Kind == KindAdam {
		return s.Adam.LR
	}
	return s.SGD.LR
}

// New creates a fresh optimizer for params with no accumulated state.
func New(spec Spec, params []*nn.Parameter) (Optimizer, error) {
	switch spec.Kind {
	case KindSGD:
		return NewSGD(params, spec.SGD), nil
	case KindAdam:
		return NewAdam(params, spec.Adam), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedOptimizer, spec.Kind)
	}
}

// zeroGrad clears the buffers of params.
func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
