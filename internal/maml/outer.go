package maml

import (
	"context"
	"fmt"

	"github.com/born-ml/fsmaml/internal/episode"
)

// IterationStats reports one outer iteration.
type IterationStats struct {
	Tasks     int
	QueryLoss float64 // Sum of per-task query losses
}

// OuterStep runs one outer iteration over batch: for every task in batch
// order, clone, adapt, backpropagate the query loss and accumulate; then
// one meta step.
//
// On any task failure the meta gradients are reset and the meta model is
// left unchanged.
func (t *Trainer) OuterStep(ctx context.Context, batch *episode.TaskBatch) (IterationStats, error) {
	stats, err := t.accumulateTasks(ctx, batch)
	if err != nil {
		t.ResetGradients()
		return IterationStats{}, err
	}
	t.MetaStep()
	return stats, nil
}

// accumulateTasks folds every task's query gradient into the meta buffers.
func (t *Trainer) accumulateTasks(ctx context.Context, batch *episode.TaskBatch) (IterationStats, error) {
	var stats IterationStats
	metaParams := t.model.Parameters()

	// One split per batch; every task's episode is cut from it.
	split, err := t.splitter.Split(batch)
	if err != nil {
		return stats, err
	}
	for _, task := range split.Tasks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ep, err := t.episodeOf(split, task)
		if err != nil {
			return stats, fmt.Errorf("task %d: %w", task, err)
		}
		adapted, err := t.Adapt(ep)
		if err != nil {
			return stats, fmt.Errorf("task %d: adapt: %w", task, err)
		}
		loss, err := t.QueryGradient(adapted, ep)
		if err != nil {
			return stats, fmt.Errorf("task %d: %w", task, err)
		}
		if err := Accumulate(metaParams, adapted.Parameters()); err != nil {
			return stats, fmt.Errorf("task %d: %w", task, err)
		}

		stats.Tasks++
		stats.QueryLoss += loss
	}
	return stats, nil
}

// MetaStep applies the meta optimizer to the accumulated gradients and
// clears them. Afterwards every meta gradient buffer is nil.
func (t *Trainer) MetaStep() {
	t.meta.Step()
	t.meta.ZeroGrad()
}
