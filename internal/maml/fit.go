package maml

import (
	"context"
	"fmt"
	"time"

	"github.com/born-ml/fsmaml/internal/episode"
)

// Fit runs the configured number of outer epochs.
//
// Each epoch streams the sampler's batches through OuterStep, evaluates the
// meta model on eval, prints the summary line and, if configured, saves a
// checkpoint. Any error abandons the epoch and is returned together with the
// summaries of the completed epochs.
func (t *Trainer) Fit(ctx context.Context, episodes Episodes, eval Batches) ([]EpochSummary, error) {
	numTasks := episodes.NumTasks()
	if numTasks <= 0 {
		return nil, fmt.Errorf("%w: sampler has no tasks", episode.ErrConfiguration)
	}

	t.logger.Info("training",
		"method", "fsmaml",
		"mode", t.cfg.Mode.String(),
		"k_shot", t.cfg.KShot,
		"k_query", t.cfg.KQuery,
		"tasks", numTasks,
		"inner", t.cfg.Inner.Kind.String(),
		"meta", t.cfg.Meta.Kind.String(),
	)

	history := make([]EpochSummary, 0, t.cfg.OuterEpochs)
	for epoch := 0; epoch < t.cfg.OuterEpochs; epoch++ {
		if epoch > 0 {
			episodes.Reset()
		}

		summary, err := t.runEpoch(ctx, epoch, episodes, eval)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		history = append(history, summary)

		if _, err := fmt.Fprintf(t.out, "Epoch: %d - MetaLoss: %v - Test Loss: %v - Test Acc: %v%%\n",
			summary.Epoch, summary.MetaLoss, summary.TestLoss, summary.TestAcc); err != nil {
			return history, fmt.Errorf("writing summary: %w", err)
		}
		t.logger.Info("epoch",
			"epoch", summary.Epoch,
			"iterations", summary.Iterations,
			"meta_loss", summary.MetaLoss,
			"mean_meta_loss", summary.MeanMetaLoss,
			"test_loss", summary.TestLoss,
			"test_acc", summary.TestAcc,
			"duration", summary.Duration,
		)

		if t.checkpointer != nil {
			if err := t.checkpointer.Checkpoint(ctx, t.model, summary); err != nil {
				return history, fmt.Errorf("epoch %d: checkpoint: %w", epoch, err)
			}
		}
	}
	return history, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int, episodes Episodes, eval Batches) (EpochSummary, error) {
	start := time.Now()
	numTasks := float64(episodes.NumTasks())
	summary := EpochSummary{Epoch: epoch}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metaLossSum float64
	for r := range episodes.Stream(ctx) {
		if r.Err != nil {
			return summary, fmt.Errorf("sampling batch %d: %w", r.Index, r.Err)
		}
		stats, err := t.OuterStep(ctx, r.Value)
		if err != nil {
			return summary, fmt.Errorf("iteration %d: %w", r.Index, err)
		}
		summary.MetaLoss = stats.QueryLoss / numTasks
		metaLossSum += summary.MetaLoss
		summary.Iterations++
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Iterations == 0 {
		return summary, fmt.Errorf("%w: sampler produced no batches", episode.ErrConfiguration)
	}
	summary.MeanMetaLoss = metaLossSum / float64(summary.Iterations)

	res, err := t.Evaluate(ctx, eval)
	if err != nil {
		return summary, err
	}
	summary.TestLoss = res.Loss
	summary.TestAcc = res.Accuracy
	summary.Duration = time.Since(start)
	return summary, nil
}
