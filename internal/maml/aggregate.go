package maml

import (
	"fmt"

	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/nn"
)

// QueryGradient evaluates the adapted model on the query set and
// backpropagates the loss into the adapted model's parameters.
//
// Returns the scalar query loss.
func (t *Trainer) QueryGradient(task nn.Module, ep *episode.Episode) (float64, error) {
	loss := t.crit.Forward(task.Forward(ep.QueryX), ep.QueryY)
	if !loss.IsFinite() {
		t.engine.Tape().Clear()
		return 0, fmt.Errorf("%w: query loss", ErrNumerical)
	}
	value := float64(loss.Item())

	if err := nn.Backward(t.engine, loss, task.Parameters()); err != nil {
		return 0, fmt.Errorf("query backward: %w", err)
	}
	return value, nil
}

// Accumulate sums task gradients into meta gradient buffers by position.
//
// An unset meta buffer receives a copy of the task gradient; a set one has
// it added elementwise. Task parameters without a gradient are skipped.
// Nothing is averaged.
func Accumulate(meta, task []*nn.Parameter) error {
	if len(meta) != len(task) {
		return fmt.Errorf("%w: %d meta parameters, %d task parameters", ErrParameterMismatch, len(meta), len(task))
	}
	for i, tp := range task {
		g := tp.Grad()
		if g == nil {
			continue
		}
		mp := meta[i]
		if !g.Shape().Equal(mp.Tensor().Shape()) {
			return fmt.Errorf("%w: position %d (%s): task grad %v, meta tensor %v",
				ErrParameterMismatch, i, mp.Name(), g.Shape(), mp.Tensor().Shape())
		}
		if mp.Grad() == nil {
			mp.SetGrad(g.Clone())
			continue
		}
		if err := mp.Grad().AddInPlace(g); err != nil {
			return fmt.Errorf("%w: position %d: %w", ErrParameterMismatch, i, err)
		}
	}
	return nil
}
