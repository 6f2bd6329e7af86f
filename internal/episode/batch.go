// Package episode turns per-class example batches into few-shot episodes.
//
// A TaskBatch maps each task (class id) to an ordered run of examples. The
// Splitter cuts every run positionally into a support prefix and a query
// suffix and stacks them into Episode tensors; the Sampler produces
// fixed-size TaskBatches from a class-indexed dataset.
package episode

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// Errors.
var (
	// ErrConfiguration reports k_shot/k_query inconsistent with the batch.
	ErrConfiguration = errors.New("episode configuration error")

	// ErrDataUsage is delivered through Splitter.OnWarning when a batch has
	// more examples than k_shot + k_query. It is never returned.
	ErrDataUsage = errors.New("unused examples folded into query set")

	// ErrInvalidArgument reports a task identifier that is not an integer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTask reports a task id absent from the batch.
	ErrInvalidTask = errors.New("task not in batch")
)

// TaskBatch is an insertion-ordered mapping from task id to examples.
type TaskBatch struct {
	order []int
	items map[int][]*tensor.Tensor
}

// NewTaskBatch creates an empty batch.
func NewTaskBatch() *TaskBatch {
	return &TaskBatch{items: make(map[int][]*tensor.Tensor)}
}

// Add appends examples to task, registering the task on first use.
func (b *TaskBatch) Add(task int, examples ...*tensor.Tensor) {
	if _, ok := b.items[task]; !ok {
		b.order = append(b.order, task)
	}
	b.items[task] = append(b.items[task], examples...)
}

// Tasks returns task ids in insertion order.
func (b *TaskBatch) Tasks() []int {
	return b.order
}

// Get returns the examples of task.
func (b *TaskBatch) Get(task int) ([]*tensor.Tensor, bool) {
	xs, ok := b.items[task]
	return xs, ok
}

// Has reports whether task is present.
func (b *TaskBatch) Has(task int) bool {
	_, ok := b.items[task]
	return ok
}

// Len returns the number of tasks.
func (b *TaskBatch) Len() int {
	return len(b.order)
}

// SeqLen returns the common sequence length L of every task.
func (b *TaskBatch) SeqLen() (int, error) {
	if len(b.order) == 0 {
		return 0, fmt.Errorf("%w: empty task batch", ErrConfiguration)
	}
	n := len(b.items[b.order[0]])
	for _, t := range b.order[1:] {
		if got := len(b.items[t]); got != n {
			return 0, fmt.Errorf("%w: task %d has %d examples, task %d has %d",
				ErrConfiguration, t, got, b.order[0], n)
		}
	}
	return n, nil
}

// TaskID converts a loosely typed task identifier into an int.
//
// Integer kinds are accepted. Strings, floats and nil are rejected even
// when they spell an integer ("2", 2.0).
func TaskID(v any) (int, error) {
	switch id := v.(type) {
	case int:
		return id, nil
	case int8:
		return int(id), nil
	case int16:
		return int(id), nil
	case int32:
		return int(id), nil
	case int64:
		if id > math.MaxInt || id < math.MinInt {
			return 0, fmt.Errorf("%w: task id %d overflows int", ErrInvalidArgument, id)
		}
		return int(id), nil
	case uint8:
		return int(id), nil
	case uint16:
		return int(id), nil
	case uint32:
		return unsignedID(uint64(id))
	case uint:
		return unsignedID(uint64(id))
	case uint64:
		return unsignedID(id)
	case uintptr:
		return unsignedID(uint64(id))
	default:
		return 0, fmt.Errorf("%w: task id must be an integer, got %T (%v)", ErrInvalidArgument, v, v)
	}
}

func unsignedID(id uint64) (int, error) {
	if id > math.MaxInt {
		return 0, fmt.Errorf("%w: task id %d overflows int", ErrInvalidArgument, id)
	}
	return int(id), nil
}
