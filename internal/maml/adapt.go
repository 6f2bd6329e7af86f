package maml

import (
	"fmt"

	"github.com/born-ml/fsmaml/internal/episode"
	"github.com/born-ml/fsmaml/internal/nn"
	"github.com/born-ml/fsmaml/internal/optim"
)

// Adapt clones the meta model and fits the clone to the support set.
//
// The clone gets its own optimizer built from the inner spec, discarded on
// return. The meta model is not touched. The returned model has empty
// gradient buffers.
func (t *Trainer) Adapt(ep *episode.Episode) (nn.Module, error) {
	task := t.model.Clone()
	params := task.Parameters()

	opt, err := optim.New(t.cfg.Inner, params)
	if err != nil {
		return nil, fmt.Errorf("inner optimizer: %w", err)
	}

	for step := 0; step < t.cfg.InnerSteps; step++ {
		loss := t.crit.Forward(task.Forward(ep.SupportX), ep.SupportY)
		if !loss.IsFinite() {
			t.engine.Tape().Clear()
			return nil, fmt.Errorf("%w: support loss at inner step %d", ErrNumerical, step)
		}

		opt.ZeroGrad()
		if err := nn.Backward(t.engine, loss, params); err != nil {
			return nil, fmt.Errorf("support backward: %w", err)
		}
		opt.Step()
	}
	opt.ZeroGrad()

	return task, nil
}
