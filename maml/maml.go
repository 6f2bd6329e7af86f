// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package maml

import (
	"math/rand"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/dataset"
	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/maml"
	"github.com/born-ml/fsmaml/internal/nn"
	"github.com/born-ml/fsmaml/internal/optim"
)

// Trainer

// Trainer owns the meta model and runs the outer loop.
type Trainer = maml.Trainer

// Config holds the hyperparameters of a run.
type Config = maml.Config

// Mode selects single-task or binary episode labelling.
type Mode = maml.Mode

// Episode labelling modes.
const (
	ModeSingle = maml.ModeSingle
	ModeBinary = maml.ModeBinary
)

// EpochSummary reports one outer epoch.
type EpochSummary = maml.EpochSummary

// EvalResult holds held-out metrics.
type EvalResult = maml.EvalResult

// Option configures a Trainer.
type Option = maml.Option

// Checkpointer persists the meta model after each epoch.
type Checkpointer = maml.Checkpointer

// NewTrainer validates cfg and builds the meta optimizer over model.
func NewTrainer(model Module, crit Criterion, engine *Engine, cfg Config, opts ...Option) (*Trainer, error) {
	return maml.NewTrainer(model, crit, engine, cfg, opts...)
}

// Options re-exported from the trainer.
var (
	WithLogger       = maml.WithLogger
	WithOutput       = maml.WithOutput
	WithCheckpointer = maml.WithCheckpointer
)

// Accumulate sums task gradients into meta gradients position by position.
func Accumulate(meta, task []*Parameter) error {
	return maml.Accumulate(meta, task)
}

// Errors.
var (
	ErrNumerical         = maml.ErrNumerical
	ErrEmptyEvaluation   = maml.ErrEmptyEvaluation
	ErrParameterMismatch = maml.ErrParameterMismatch
	ErrConfiguration     = episode.ErrConfiguration
	ErrDataUsage         = episode.ErrDataUsage
	ErrInvalidArgument   = episode.ErrInvalidArgument
	ErrInvalidTask       = episode.ErrInvalidTask
)

// Model

// Engine records differentiable operations.
type Engine = autodiff.Engine

// NewCPUBackend creates the CPU compute backend.
func NewCPUBackend() *cpu.Backend {
	return cpu.New()
}

// NewEngine creates an autodiff engine over backend.
func NewEngine(backend *cpu.Backend) *Engine {
	return autodiff.New(backend)
}

// Module is the interface every trainable model implements.
type Module = nn.Module

// Parameter is a trainable tensor with a gradient buffer.
type Parameter = nn.Parameter

// Criterion is a differentiable loss with a top-1 hit count.
type Criterion = nn.Criterion

// NewMLP creates Flatten, then Linear/ReLU blocks for hidden, then a final Linear.
func NewMLP(inFeatures int, hidden []int, outFeatures int, engine *Engine, rng *rand.Rand) *nn.Sequential {
	return nn.NewMLP(inFeatures, hidden, outFeatures, engine, rng)
}

// NewCrossEntropyLoss creates softmax cross-entropy.
func NewCrossEntropyLoss(engine *Engine) Criterion {
	return nn.NewCrossEntropyLoss(engine)
}

// NewBCEWithLogitsLoss creates binary cross-entropy on logits.
func NewBCEWithLogitsLoss(engine *Engine) Criterion {
	return nn.NewBCEWithLogitsLoss(engine)
}

// Optimizers

// OptimizerSpec describes an SGD or Adam optimizer.
type OptimizerSpec = optim.Spec

// OptimizerFromName builds a spec from "sgd" or "adam".
func OptimizerFromName(name string, lr, weightDecay float32) (OptimizerSpec, error) {
	return optim.FromName(name, lr, weightDecay)
}

// Data

// TaskBatch maps task ids to examples in insertion order.
type TaskBatch = episode.TaskBatch

// Splitter divides a TaskBatch into support and query sets.
type Splitter = episode.Splitter

// Sampler produces fixed-size task batches from a class-indexed dataset.
type Sampler = episode.Sampler

// SamplerConfig configures a Sampler.
type SamplerConfig = episode.SamplerConfig

// NewSampler creates a sampler over every class of ds.
func NewSampler(ds dataset.Dataset, cfg SamplerConfig) (*Sampler, error) {
	index, err := dataset.NewClassIndex(ds)
	if err != nil {
		return nil, err
	}
	return episode.NewSampler(index, cfg)
}

// NewTestLoader creates an evaluation loader over ds.
func NewTestLoader(ds dataset.Dataset, batchSize int) *dataset.Loader {
	return dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: batchSize})
}
