package optim_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/nn"
	"github.com/born-ml/fsmaml/internal/optim"
	"github.com/born-ml/fsmaml/internal/parallel"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

func scalarParam(t *testing.T, v float32) *nn.Parameter {
	t.Helper()
	x, err := tensor.FromSlice([]float32{v}, tensor.Shape{1})
	require.NoError(t, err)
	return nn.NewParameter("x", x)
}

func setGrad(p *nn.Parameter, g float32) {
	p.SetGrad(tensor.Full(tensor.Shape{1}, g))
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	param := scalarParam(t, 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1})

	setGrad(param, 1.0)
	optimizer.Step()

	// Expected: x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0 = 1.9
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 1.9, 1e-6) {
		t.Errorf("SGD update: got %f, want %f", actual, 1.9)
	}
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	param := scalarParam(t, 1.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	// Step 1: v = 1, x = 1 - 0.1 = 0.9
	setGrad(param, 1.0)
	optimizer.Step()
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 0.9, 1e-6) {
		t.Errorf("step 1: got %f, want 0.9", actual)
	}

	// Step 2: v = 0.9 + 1 = 1.9, x = 0.9 - 0.19 = 0.71
	setGrad(param, 1.0)
	optimizer.Step()
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 0.71, 1e-5) {
		t.Errorf("step 2: got %f, want 0.71", actual)
	}
}

func TestSGD_WeightDecay(t *testing.T) {
	param := scalarParam(t, 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1, WeightDecay: 0.5})

	// x = 2 - 0.1 * (0 + 0.5*2) = 1.9
	setGrad(param, 0)
	optimizer.Step()
	assert.InDelta(t, 1.9, param.Tensor().Data()[0], 1e-6)
}

func TestSGD_SkipsNilGrad(t *testing.T) {
	param := scalarParam(t, 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1, WeightDecay: 0.5})
	optimizer.Step()
	assert.Equal(t, float32(2.0), param.Tensor().Data()[0])
}

func TestSGD_ZeroGrad(t *testing.T) {
	a, b := scalarParam(t, 1), scalarParam(t, 2)
	setGrad(a, 1)
	setGrad(b, 1)

	optimizer := optim.NewSGD([]*nn.Parameter{a, b}, optim.SGDConfig{})
	optimizer.ZeroGrad()

	assert.Nil(t, a.Grad())
	assert.Nil(t, b.Grad())
	assert.Equal(t, float32(0.01), optimizer.LR(), "default LR")
}

func TestSGD_SetLR(t *testing.T) {
	optimizer := optim.NewSGD(nil, optim.SGDConfig{LR: 0.1})
	optimizer.SetLR(0.05)
	assert.Equal(t, float32(0.05), optimizer.LR())
}

// TestAdam_SimpleUpdate tests the first Adam step.
//
// With bias correction, m_hat = g and v_hat = g², so the first update is
// lr * sign(g) up to eps.
func TestAdam_SimpleUpdate(t *testing.T) {
	param := scalarParam(t, 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.1})

	setGrad(param, 0.5)
	optimizer.Step()

	if actual := param.Tensor().Data()[0]; !floatEqual(actual, 0.9, 1e-5) {
		t.Errorf("Adam update: got %f, want 0.9", actual)
	}
	assert.Equal(t, 1, optimizer.Timestep())
}

func TestAdam_BiasCorrection(t *testing.T) {
	param := scalarParam(t, 0.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.01})

	// A constant gradient gives m_hat = g and v_hat = g² at every step.
	for n := 0; n < 5; n++ {
		setGrad(param, 2.0)
		optimizer.Step()
	}
	if actual := param.Tensor().Data()[0]; !floatEqual(actual, -0.05, 1e-5) {
		t.Errorf("after 5 steps: got %f, want -0.05", actual)
	}
}

func TestAdam_Defaults(t *testing.T) {
	optimizer := optim.NewAdam(nil, optim.AdamConfig{})
	assert.Equal(t, float32(0.001), optimizer.LR())
}

// TestConvergence_SimpleQuadratic minimizes f(x) = (x - 3)² with both
// optimizers.
func TestConvergence_SimpleQuadratic(t *testing.T) {
	tests := []struct {
		name string
		spec optim.Spec
		tol  float64
	}{
		{"sgd", optim.Spec{Kind: optim.KindSGD, SGD: optim.SGDConfig{LR: 0.1}}, 1e-3},
		{"sgd momentum", optim.Spec{Kind: optim.KindSGD, SGD: optim.SGDConfig{LR: 0.05, Momentum: 0.5}}, 1e-3},
		{"adam", optim.Spec{Kind: optim.KindAdam, Adam: optim.AdamConfig{LR: 0.1}}, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			param := scalarParam(t, 0)
			opt, err := optim.New(tt.spec, []*nn.Parameter{param})
			require.NoError(t, err)

			for n := 0; n < 500; n++ {
				x := param.Tensor().Data()[0]
				setGrad(param, 2*(x-3))
				opt.Step()
				opt.ZeroGrad()
			}
			assert.InDelta(t, 3.0, float64(param.Tensor().Data()[0]), tt.tol)
		})
	}
}

func TestTraining_LossDecreases(t *testing.T) {
	engine := autodiff.New(cpu.NewWithConfig(parallel.Sequential()))
	rng := rand.New(rand.NewSource(11))
	model := nn.NewMLP(2, []int{8}, 2, engine, rng)
	crit := nn.NewCrossEntropyLoss(engine)

	x, err := tensor.FromSlice([]float32{
		-1, -1, -1.2, -0.8, -0.9, -1.1,
		1, 1, 1.1, 0.9, 0.8, 1.2,
	}, tensor.Shape{6, 2})
	require.NoError(t, err)
	y, err := tensor.FromSlice([]float32{0, 0, 0, 1, 1, 1}, tensor.Shape{6})
	require.NoError(t, err)

	opt := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.05})

	var first, last float32
	for i := 0; i < 50; i++ {
		loss := crit.Forward(model.Forward(x), y)
		if i == 0 {
			first = loss.Item()
		}
		last = loss.Item()
		require.NoError(t, nn.Backward(engine, loss, model.Parameters()))
		opt.Step()
		opt.ZeroGrad()
	}
	assert.Less(t, last, first)
	assert.False(t, math.IsNaN(float64(last)))
}

func TestMultipleParameters(t *testing.T) {
	a, b := scalarParam(t, 1), scalarParam(t, 1)
	optimizer := optim.NewSGD([]*nn.Parameter{a, b}, optim.SGDConfig{LR: 0.5})

	setGrad(a, 1)
	setGrad(b, -1)
	optimizer.Step()

	assert.InDelta(t, 0.5, a.Tensor().Data()[0], 1e-6)
	assert.InDelta(t, 1.5, b.Tensor().Data()[0], 1e-6)
}

func TestFromName(t *testing.T) {
	spec, err := optim.FromName("Adam", 0.002, 1e-4)
	require.NoError(t, err)
	assert.Equal(t, optim.KindAdam, spec.Kind)
	assert.Equal(t, float32(0.002), spec.LR())
	assert.Equal(t, float32(1e-4), spec.Adam.WeightDecay)

	spec, err = optim.FromName("sgd", 0.1, 0)
	require.NoError(t, err)
	assert.Equal(t, "sgd", spec.Kind.String())

	_, err = optim.FromName("rmsprop", 0.1, 0)
	assert.ErrorIs(t, err, optim.ErrUnsupportedOptimizer)

	_, err = optim.New(optim.Spec{Kind: optim.Kind(7)}, nil)
	assert.ErrorIs(t, err, optim.ErrUnsupportedOptimizer)
}

func TestNew_FreshState(t *testing.T) {
	param := scalarParam(t, 0)
	spec := optim.Spec{Kind: optim.KindSGD, SGD: optim.SGDConfig{LR: 0.1, Momentum: 0.9}}

	first, err := optim.New(spec, []*nn.Parameter{param})
	require.NoError(t, err)
	setGrad(param, 1)
	first.Step()
	first.Step()

	// A new optimizer starts with zero velocity: one step moves by lr * g.
	second, err := optim.New(spec, []*nn.Parameter{param})
	require.NoError(t, err)
	before := param.Tensor().Data()[0]
	second.Step()
	assert.InDelta(t, before-0.1, param.Tensor().Data()[0], 1e-6)
}
