// Package maml implements the bi-level few-shot training loop.
//
// Every outer iteration clones the meta model once per task, adapts the
// clone on the task's support set with a fresh optimizer, backpropagates the
// query loss into the clone, and sums the clone gradients positionally into
// the meta model's gradient buffers. One meta optimizer step then consumes
// and clears the buffers.
//
// Example:
//
//	trainer, err := maml.NewTrainer(model, criterion, engine, cfg,
//	    maml.WithLogger(logger))
//	history, err := trainer.Fit(ctx, sampler, testLoader)
package maml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/nn"
	"github.com/born-ml/fsmaml/internal/optim"
	"github.com/born-ml/fsmaml/internal/parallel"
)

// Errors.
var (
	ErrNumerical         = errors.New("non-finite loss")
	ErrEmptyEvaluation   = errors.New("evaluation set produced no batches")
	ErrParameterMismatch = errors.New("task and meta parameters are not aligned")
)

// Episodes is the source of task batches for one epoch.
type Episodes interface {
	// NumTasks returns the number of tasks per batch (the nt scalar).
	NumTasks() int

	// Reset starts a new epoch.
	Reset()

	// Stream delivers the epoch's batches in order.
	Stream(ctx context.Context) <-chan parallel.Result[*episode.TaskBatch]
}

// Checkpointer persists the meta model after each epoch.
type Checkpointer interface {
	Checkpoint(ctx context.Context, model nn.Module, summary EpochSummary) error
}

// EpochSummary reports one outer epoch.
type EpochSummary struct {
	Epoch        int
	Iterations   int
	MetaLoss     float64 // Last iteration's summed query loss divided by the task count
	MeanMetaLoss float64 // Mean of the per-iteration MetaLoss values
	TestLoss     float64
	TestAcc      float64 // Percent
	Duration     time.Duration
}

// Trainer owns the meta model and runs the outer loop.
type Trainer struct {
	model    nn.Module
	crit     nn.Criterion
	engine   *autodiff.Engine
	cfg      Config
	meta     optim.Optimizer
	splitter *episode.Splitter

	logger       *slog.Logger
	out          io.Writer
	checkpointer Checkpointer
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithOutput sets where epoch summary lines are printed (default: stdout).
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) { t.out = w }
}

// WithCheckpointer saves the meta model after every epoch.
func WithCheckpointer(c Checkpointer) Option {
	return func(t *Trainer) { t.checkpointer = c }
}

// NewTrainer validates cfg and builds the meta optimizer over model.
func NewTrainer(model nn.Module, crit nn.Criterion, engine *autodiff.Engine, cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	meta, err := optim.New(cfg.Meta, model.Parameters())
	if err != nil {
		return nil, fmt.Errorf("meta optimizer: %w", err)
	}

	t := &Trainer{
		model:  model,
		crit:   crit,
		engine: engine,
		cfg:    cfg,
		meta:   meta,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.splitter = &episode.Splitter{
		KShot:  cfg.KShot,
		KQuery: cfg.KQuery,
		OnWarning: func(err error) {
			t.logger.Warn("episode split", "err", err)
		},
	}
	if cfg.Shuffle {
		t.splitter.Rand = rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible row order
	}
	return t, nil
}

// Model returns the meta model.
func (t *Trainer) Model() nn.Module {
	return t.model
}

// Config returns the validated config.
func (t *Trainer) Config() Config {
	return t.cfg
}

// Splitter returns the splitter used to build episodes.
func (t *Trainer) Splitter() *episode.Splitter {
	return t.splitter
}

// Episode builds the episode of task according to the configured mode.
func (t *Trainer) Episode(batch *episode.TaskBatch, task int) (*episode.Episode, error) {
	split, err := t.splitter.Split(batch)
	if err != nil {
		return nil, err
	}
	return t.episodeOf(split, task)
}

func (t *Trainer) episodeOf(split *episode.Split, task int) (*episode.Episode, error) {
	if t.cfg.Mode == ModeBinary {
		return t.splitter.BinaryOf(split, task)
	}
	return t.splitter.SingleTaskOf(split, task)
}

// ResetGradients clears every meta gradient buffer and any pending tape ops.
func (t *Trainer) ResetGradients() {
	t.meta.ZeroGrad()
	t.engine.Tape().Clear()
}
