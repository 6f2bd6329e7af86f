package maml

import (
	"context"
	"fmt"

	"github.com/born-ml/fsmaml/internal/dataset"
	"github.com/born-ml/fsmaml/internal/parallel"
)

// Batches is a source of evaluation batches.
type Batches interface {
	Stream(ctx context.Context) <-chan parallel.Result[dataset.Batch]
}

// EvalResult holds held-out metrics of the meta model.
type EvalResult struct {
	Loss     float64 // Mean batch loss
	Accuracy float64 // Top-1 accuracy in percent
	Batches  int
	Examples int
}

// Evaluate runs the meta model over batches with gradient recording off.
//
// The loss is the sum of batch losses over the number of batches seen.
// A source with no batches fails with ErrEmptyEvaluation.
func (t *Trainer) Evaluate(ctx context.Context, batches Batches) (EvalResult, error) {
	var res EvalResult
	var lossSum float64
	correct := 0

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := t.engine.NoGrad(func() error {
		for r := range batches.Stream(ctx) {
			if r.Err != nil {
				return fmt.Errorf("evaluation batch %d: %w", r.Index, r.Err)
			}
			b := r.Value
			logits := t.model.Forward(b.X)
			lossSum += float64(t.crit.Forward(logits, b.Y).Item())
			correct += t.crit.Correct(logits, b.Y)
			res.Examples += b.Size()
			res.Batches++
		}
		return ctx.Err()
	})
	if err != nil {
		return EvalResult{}, err
	}
	if res.Batches == 0 || res.Examples == 0 {
		return EvalResult{}, ErrEmptyEvaluation
	}

	res.Loss = lossSum / float64(res.Batches)
	res.Accuracy = 100 * float64(correct) / float64(res.Examples)
	return res, nil
}
