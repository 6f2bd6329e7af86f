package nn

import (
	"errors"
	"fmt"

	"github.com/born-ml/fsmaml/internal/autodiff"
	"github.com/born-ml/fsmaml/internal/backend/cpu"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// ErrUnknownCriterion is returned by NewCriterion for unrecognized names.
var ErrUnknownCriterion = errors.New("unknown criterion")

// Criterion maps (predictions, labels) to a differentiable scalar loss.
type Criterion interface {
	// Forward returns a [1] loss tensor recorded on the engine tape.
	Forward(logits, targets *tensor.Tensor) *tensor.Tensor

	// Correct returns the number of top-1 correct predictions.
	Correct(logits, targets *tensor.Tensor) int

	// Name returns the criterion name used in configs.
	Name() string
}

// Criterion names.
const (
	CriterionCrossEntropy  = "cross_entropy"
	CriterionBCEWithLogits = "bce_with_logits"
)

// NewCriterion resolves a criterion by config name.
func NewCriterion(name string, engine *autodiff.Engine) (Criterion, error) {
	switch name {
	case CriterionCrossEntropy, "":
		return NewCrossEntropyLoss(engine), nil
	case CriterionBCEWithLogits:
		return NewBCEWithLogitsLoss(engine), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCriterion, name)
	}
}

// CrossEntropyLoss computes softmax cross-entropy for multi-class
// classification.
//
// Expects raw logits [batch_size, num_classes] and targets [batch_size]
// holding class indices. The loss is the batch mean.
type CrossEntropyLoss struct {
	engine *autodiff.Engine
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss(engine *autodiff.Engine) *CrossEntropyLoss {
	return &CrossEntropyLoss{engine: engine}
}

// Forward computes the mean cross-entropy.
func (c *CrossEntropyLoss) Forward(logits, targets *tensor.Tensor) *tensor.Tensor {
	return c.engine.CrossEntropy(logits, targets)
}

// Correct counts rows whose argmax equals the target class.
func (c *CrossEntropyLoss) Correct(logits, targets *tensor.Tensor) int {
	s := logits.Shape()
	batch, classes := s[0], s[1]
	ld, td := logits.Data(), targets.Data()
	correct := 0
	for i := 0; i < batch; i++ {
		if cpu.Argmax(ld[i*classes:(i+1)*classes]) == cpu.ClassIndex(td[i]) {
			correct++
		}
	}
	return correct
}

// Name returns "cross_entropy".
func (c *CrossEntropyLoss) Name() string {
	return CriterionCrossEntropy
}

// BCEWithLogitsLoss computes binary cross-entropy on single-logit outputs.
//
// Expects logits with one value per example ([batch] or [batch, 1]) and 0/1
// targets; this is the natural loss for the per-task binary discriminator.
type BCEWithLogitsLoss struct {
	engine *autodiff.Engine
}

// NewBCEWithLogitsLoss creates a new binary cross-entropy loss.
func NewBCEWithLogitsLoss(engine *autodiff.Engine) *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{engine: engine}
}

// Forward computes the mean binary cross-entropy.
func (c *BCEWithLogitsLoss) Forward(logits, targets *tensor.Tensor) *tensor.Tensor {
	return c.engine.BCEWithLogits(logits, targets)
}

// Correct counts predictions where (logit > 0) matches the target.
func (c *BCEWithLogitsLoss) Correct(logits, targets *tensor.Tensor) int {
	ld, td := logits.Data(), targets.Data()
	correct := 0
	for i, z := range ld {
		pred := 0
		if z > 0 {
			pred = 1
		}
		if pred == cpu.ClassIndex(td[i]) {
			correct++
		}
	}
	return correct
}

// Name returns "bce_with_logits".
func (c *BCEWithLogitsLoss) Name() string {
	return CriterionBCEWithLogits
}
