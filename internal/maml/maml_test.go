package maml

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/dataset"
	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/nn"
	"github.com/born-ml/fsmaml/internal/optim"
	"github.com/born-ml/fsmaml/internal/parallel"
	"github.com/born-ml/fsmaml/internal/tensor"
)

const (
	testDim     = 4
	testClasses = 3
)

type fixture struct {
	engine  *autodiff.Engine
	model   nn.Module
	crit    nn.Criterion
	cfg     Config
	trainer *Trainer
	out     *bytes.Buffer
}

func testConfig() Config {
	return Config{
		KShot:       2,
		KQuery:      2,
		Inner:       optim.Spec{Kind: optim.KindSGD, SGD: optim.SGDConfig{LR: 0.1}},
		Meta:        optim.Spec{Kind: optim.KindAdam, Adam: optim.AdamConfig{LR: 0.01, WeightDecay: 1e-4}},
		InnerSteps:  2,
		OuterEpochs: 1,
	}
}

func newFixture(t *testing.T, cfg Config, outFeatures int, crit func(*autodiff.Engine) nn.Criterion) *fixture {
	t.Helper()
	engine := autodiff.New(cpu.NewWithConfig(parallel.Sequential()))
	model := nn.NewMLP(testDim, []int{6}, outFeatures, engine, rand.New(rand.NewSource(1)))
	f := &fixture{engine: engine, model: model, crit: crit(engine), cfg: cfg, out: &bytes.Buffer{}}

	tr, err := NewTrainer(model, f.crit, engine, cfg, WithOutput(f.out))
	require.NoError(t, err)
	f.trainer = tr
	return f
}

func ceFixture(t *testing.T) *fixture {
	return newFixture(t, testConfig(), testClasses, func(e *autodiff.Engine) nn.Criterion {
		return nn.NewCrossEntropyLoss(e)
	})
}

// makeBatch builds a task batch of n examples per task with deterministic
// pseudo-random inputs.
func makeBatch(tasks []int, n int, seed int64) *episode.TaskBatch {
	rng := rand.New(rand.NewSource(seed))
	b := episode.NewTaskBatch()
	for _, task := range tasks {
		for i := 0; i < n; i++ {
			x := tensor.Randn(tensor.Shape{testDim}, rng)
			x.Data()[task%testDim] += 2
			b.Add(task, x)
		}
	}
	return b
}

func snapshot(params []*nn.Parameter) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Tensor().Clone()
	}
	return out
}

// TestSingleTask_AccumulateIsAssignment checks that with one task the meta
// buffers hold exactly the gradient of a directly computed adaptation.
func TestSingleTask_AccumulateIsAssignment(t *testing.T) {
	f := ceFixture(t)
	batch := makeBatch([]int{1}, 4, 3)
	before := snapshot(f.model.Parameters())

	_, err := f.trainer.accumulateTasks(context.Background(), batch)
	require.NoError(t, err)

	// Reference: the same procedure by hand.
	ep, err := (&episode.Splitter{KShot: 2, KQuery: 2}).SingleTask(batch, 1)
	require.NoError(t, err)

	ref := f.model.Clone()
	opt, err := optim.New(f.cfg.Inner, ref.Parameters())
	require.NoError(t, err)
	for n := 0; n < f.cfg.InnerSteps; n++ {
		loss := f.crit.Forward(ref.Forward(ep.SupportX), ep.SupportY)
		opt.ZeroGrad()
		require.NoError(t, nn.Backward(f.engine, loss, ref.Parameters()))
		opt.Step()
	}
	opt.ZeroGrad()
	loss := f.crit.Forward(ref.Forward(ep.QueryX), ep.QueryY)
	require.NoError(t, nn.Backward(f.engine, loss, ref.Parameters()))

	for i, p := range f.model.Parameters() {
		require.NotNil(t, p.Grad(), "param %d", i)
		assert.True(t, p.Grad().Equal(ref.Parameters()[i].Grad()), "param %d grad differs", i)
		assert.True(t, p.Tensor().Equal(before[i]), "meta param %d changed before the meta step", i)
	}
}

func TestAccumulate_CommutesAcrossTaskOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	shape := tensor.Shape{3, 2}
	grads := []*tensor.Tensor{
		tensor.Randn(shape, rng), tensor.Randn(shape, rng), tensor.Randn(shape, rng),
	}

	sum := func(order []int) *tensor.Tensor {
		meta := []*nn.Parameter{nn.NewParameter("w", tensor.Zeros(shape))}
		for _, i := range order {
			task := []*nn.Parameter{nn.NewParameter("w", tensor.Zeros(shape))}
			task[0].SetGrad(grads[i])
			require.NoError(t, Accumulate(meta, task))
		}
		return meta[0].Grad()
	}

	want := sum([]int{0, 1, 2})
	for _, order := range [][]int{{2, 1, 0}, {1, 0, 2}, {2, 0, 1}} {
		got := sum(order)
		assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-6)
	}

	// Sum, not mean.
	for i, v := range want.Data() {
		assert.InDelta(t, grads[0].Data()[i]+grads[1].Data()[i]+grads[2].Data()[i], v, 1e-6)
	}
}

func TestAccumulate_FirstAssignCopies(t *testing.T) {
	meta := []*nn.Parameter{nn.NewParameter("w", tensor.Zeros(tensor.Shape{2}))}
	task := []*nn.Parameter{nn.NewParameter("w", tensor.Zeros(tensor.Shape{2}))}
	task[0].SetGrad(tensor.Ones(tensor.Shape{2}))

	require.NoError(t, Accumulate(meta, task))
	assert.NotSame(t, task[0].Grad(), meta[0].Grad())
	assert.Equal(t, []float32{1, 1}, meta[0].Grad().Data())

	require.NoError(t, Accumulate(meta, task))
	assert.Equal(t, []float32{2, 2}, meta[0].Grad().Data())
	assert.Equal(t, []float32{1, 1}, task[0].Grad().Data())
}

func TestAccumulate_SkipsNilAndRejectsMismatch(t *testing.T) {
	meta := []*nn.Parameter{nn.NewParameter("w", tensor.Zeros(tensor.Shape{2}))}

	require.NoError(t, Accumulate(meta, []*nn.Parameter{nn.NewParameter("w", tensor.Zeros(tensor.Shape{2}))}))
	assert.Nil(t, meta[0].Grad())

	err := Accumulate(meta, nil)
	assert.ErrorIs(t, err, ErrParameterMismatch)

	bad := nn.NewParameter("w", tensor.Zeros(tensor.Shape{3}))
	bad.SetGrad(tensor.Ones(tensor.Shape{3}))
	err = Accumulate(meta, []*nn.Parameter{bad})
	assert.ErrorIs(t, err, ErrParameterMismatch)
}

func TestOuterStep_ResetsGradients(t *testing.T) {
	f := ceFixture(t)
	before := snapshot(f.model.Parameters())

	stats, err := f.trainer.OuterStep(context.Background(), makeBatch([]int{0, 1, 2}, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Tasks)
	assert.Positive(t, stats.QueryLoss)

	changed := false
	for i, p := range f.model.Parameters() {
		assert.Nil(t, p.Grad(), "param %d", i)
		if !p.Tensor().Equal(before[i]) {
			changed = true
		}
	}
	assert.True(t, changed, "meta step should update the meta model")
	assert.Equal(t, 0, f.engine.Tape().NumOps())
}

func TestAdapt_LeavesMetaModelUntouched(t *testing.T) {
	f := ceFixture(t)
	before := snapshot(f.model.Parameters())

	ep, err := f.trainer.Episode(makeBatch([]int{0, 2}, 4, 6), 2)
	require.NoError(t, err)
	adapted, err := f.trainer.Adapt(ep)
	require.NoError(t, err)

	for i, p := range f.model.Parameters() {
		assert.True(t, p.Tensor().Equal(before[i]))
		assert.Nil(t, p.Grad())
	}
	for _, p := range adapted.Parameters() {
		assert.Nil(t, p.Grad(), "adapted model starts the query pass with empty buffers")
	}
	assert.False(t, adapted.Parameters()[0].Tensor().Equal(before[0]))
}

func TestOuterStep_NumericalErrorAborts(t *testing.T) {
	f := ceFixture(t)
	f.model.Parameters()[1].Tensor().Data()[0] = float32(math.NaN())
	before := snapshot(f.model.Parameters())

	_, err := f.trainer.OuterStep(context.Background(), makeBatch([]int{0, 1}, 4, 7))
	require.ErrorIs(t, err, ErrNumerical)

	for i, p := range f.model.Parameters() {
		assert.Nil(t, p.Grad())
		for j, v := range p.Tensor().Data() {
			assert.Equal(t, math.Float32bits(before[i].Data()[j]), math.Float32bits(v), "param %d[%d]", i, j)
		}
	}
}

func TestOuterStep_ConfigErrors(t *testing.T) {
	f := ceFixture(t)

	_, err := f.trainer.OuterStep(context.Background(), makeBatch([]int{0}, 3, 1))
	assert.ErrorIs(t, err, episode.ErrConfiguration)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.trainer.OuterStep(ctx, makeBatch([]int{0}, 4, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBinaryMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeBinary
	f := newFixture(t, cfg, 1, func(e *autodiff.Engine) nn.Criterion {
		return nn.NewBCEWithLogitsLoss(e)
	})

	batch := makeBatch([]int{0, 1, 2}, 4, 8)
	ep, err := f.trainer.Episode(batch, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, ep.SupportY.NumElements())

	stats, err := f.trainer.OuterStep(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Tasks)
}

func TestOuterStep_OverflowWarnsOncePerBatch(t *testing.T) {
	for _, mode := range []Mode{ModeSingle, ModeBinary} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.Mode = mode
			engine := autodiff.New(cpu.NewWithConfig(parallel.Sequential()))
			out := testClasses
			var crit nn.Criterion = nn.NewCrossEntropyLoss(engine)
			if mode == ModeBinary {
				out = 1
				crit = nn.NewBCEWithLogitsLoss(engine)
			}
			model := nn.NewMLP(testDim, []int{6}, out, engine, rand.New(rand.NewSource(1)))

			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))
			tr, err := NewTrainer(model, crit, engine, cfg, WithLogger(logger), WithOutput(&bytes.Buffer{}))
			require.NoError(t, err)

			// 6 examples per task against k_shot + k_query = 4.
			for i := 0; i < 2; i++ {
				stats, err := tr.OuterStep(context.Background(), makeBatch([]int{0, 1, 2}, 6, int64(i)))
				require.NoError(t, err)
				assert.Equal(t, 3, stats.Tasks)
			}
			assert.Equal(t, 2, strings.Count(logs.String(), "episode split"), logs.String())
		})
	}
}

func TestEvaluate_Empty(t *testing.T) {
	f := ceFixture(t)
	empty, err := dataset.NewInMemory(nil, nil)
	require.NoError(t, err)

	_, err = f.trainer.Evaluate(context.Background(), dataset.NewLoader(empty, dataset.LoaderConfig{}))
	assert.ErrorIs(t, err, ErrEmptyEvaluation)
}

func TestEvaluate_CountsBatches(t *testing.T) {
	f := ceFixture(t)
	ds, err := dataset.NewSynthetic(dataset.SyntheticConfig{Classes: testClasses, PerClass: 3, Dim: testDim})
	require.NoError(t, err)

	res, err := f.trainer.Evaluate(context.Background(), dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: 1, Workers: 2}))
	require.NoError(t, err)
	assert.Equal(t, 9, res.Batches)
	assert.Equal(t, 9, res.Examples)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 100.0)
	assert.Equal(t, 0, f.engine.Tape().NumOps(), "evaluation must not record")
}

type recordingCheckpointer struct {
	epochs []int
}

func (r *recordingCheckpointer) Checkpoint(_ context.Context, _ nn.Module, s EpochSummary) error {
	r.epochs = append(r.epochs, s.Epoch)
	return nil
}

func TestFit_SummaryLines(t *testing.T) {
	cfg := testConfig()
	cfg.OuterEpochs = 2
	cfg.Shuffle = true
	cfg.Seed = 2

	engine := autodiff.New(cpu.NewWithConfig(parallel.Sequential()))
	model := nn.NewMLP(testDim, []int{6}, testClasses, engine, rand.New(rand.NewSource(1)))
	var out bytes.Buffer
	ckpt := &recordingCheckpointer{}
	trainer, err := NewTrainer(model, nn.NewCrossEntropyLoss(engine), engine, cfg,
		WithOutput(&out), WithCheckpointer(ckpt))
	require.NoError(t, err)

	train, err := dataset.NewSynthetic(dataset.SyntheticConfig{Classes: testClasses, PerClass: 12, Dim: testDim, Seed: 1})
	require.NoError(t, err)
	test, err := dataset.NewSynthetic(dataset.SyntheticConfig{Classes: testClasses, PerClass: 4, Dim: testDim, Seed: 2})
	require.NoError(t, err)
	index, err := dataset.NewClassIndex(train)
	require.NoError(t, err)
	sampler, err := episode.NewSampler(index, episode.SamplerConfig{KShot: 2, KQuery: 2, Shuffle: true, Seed: 1, Workers: 2})
	require.NoError(t, err)

	history, err := trainer.Fit(context.Background(), sampler, dataset.NewLoader(test, dataset.LoaderConfig{BatchSize: 4}))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []int{0, 1}, ckpt.epochs)

	line := regexp.MustCompile(`^Epoch: \d+ - MetaLoss: \S+ - Test Loss: \S+ - Test Acc: \S+%$`)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for i, l := range lines {
		assert.Regexp(t, line, l)
		assert.True(t, strings.HasPrefix(l, "Epoch: "+string(rune('0'+i))))
	}

	for _, s := range history {
		assert.Equal(t, 3, s.Iterations)
		assert.False(t, math.IsNaN(s.MetaLoss))
		assert.Positive(t, s.MeanMetaLoss)
	}
}

type failingEpisodes struct{}

func (failingEpisodes) NumTasks() int { return 2 }
func (failingEpisodes) Reset()        {}
func (failingEpisodes) Stream(ctx context.Context) <-chan parallel.Result[*episode.TaskBatch] {
	return parallel.Ordered(ctx, 1, 1, func(context.Context, int) (*episode.TaskBatch, error) {
		return nil, errors.New("disk on fire")
	})
}

func TestFit_SamplerError(t *testing.T) {
	f := ceFixture(t)
	history, err := f.trainer.Fit(context.Background(), failingEpisodes{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, history)
	assert.Empty(t, f.out.String())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"ok", func(*Config) {}, nil},
		{"zero shot", func(c *Config) { c.KShot = 0 }, episode.ErrConfiguration},
		{"negative inner steps", func(c *Config) { c.InnerSteps = -1 }, episode.ErrInvalidArgument},
		{"negative lr", func(c *Config) { c.Inner.SGD.LR = -1 }, episode.ErrInvalidArgument},
		{"zero inner lr", func(c *Config) { c.Inner.SGD.LR = 0 }, episode.ErrInvalidArgument},
		{"zero meta lr", func(c *Config) { c.Meta.Adam.LR = 0 }, episode.ErrInvalidArgument},
		{"negative wd", func(c *Config) { c.Meta.Adam.WeightDecay = -1 }, episode.ErrInvalidArgument},
		{"momentum", func(c *Config) { c.Inner.SGD.Momentum = 1 }, episode.ErrInvalidArgument},
		{"kind", func(c *Config) { c.Meta.Kind = optim.Kind(9) }, optim.ErrUnsupportedOptimizer},
		{"mode", func(c *Config) { c.Mode = Mode(5) }, episode.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	spec := optim.Spec{Kind: optim.KindSGD, SGD: optim.SGDConfig{LR: 0.1}}
	cfg := Config{KShot: 1, KQuery: 1, Inner: spec, Meta: spec}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.InnerSteps)
	assert.Equal(t, 1, cfg.OuterEpochs)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Binary")
	require.NoError(t, err)
	assert.Equal(t, ModeBinary, m)

	_, err = ParseMode("ternary")
	assert.ErrorIs(t, err, episode.ErrInvalidArgument)
}
