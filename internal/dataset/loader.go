package dataset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/born-ml/fsmaml/internal/parallel"
	"github.com/born-ml/fsmaml/internal/tensor"
)

// Batch is a stacked group of examples.
type Batch struct {
	X *tensor.Tensor // [batch, ...input shape]
	Y *tensor.Tensor // [batch] class labels as float32
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return b.Y.NumElements()
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BatchSize int  // Examples per batch (default: 1)
	Workers   int  // Prefetch workers (default: 1)
	PinMemory bool // Accepted for config compatibility; the CPU path ignores it
	Logger    *slog.Logger
}

// Loader iterates a Dataset in order, in fixed-size batches. The last batch
// may be smaller.
type Loader struct {
	ds        Dataset
	batchSize int
	workers   int
}

// NewLoader creates a Loader over ds.
func NewLoader(ds Dataset, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PinMemory && cfg.Logger != nil {
		cfg.Logger.Debug("pin_memory has no effect on the cpu device")
	}
	return &Loader{ds: ds, batchSize: cfg.BatchSize, workers: cfg.Workers}
}

// Len returns the number of batches.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// Batch assembles batch i.
func (l *Loader) Batch(i int) (Batch, error) {
	if i < 0 || i >= l.Len() {
		return Batch{}, fmt.Errorf("%w: batch %d not in [0, %d)", ErrIndexRange, i, l.Len())
	}
	start := i * l.batchSize
	end := min(start+l.batchSize, l.ds.Len())

	xs := make([]*tensor.Tensor, 0, end-start)
	ys := make([]float32, 0, end-start)
	for j := start; j < end; j++ {
		x, y, err := l.ds.At(j)
		if err != nil {
			return Batch{}, err
		}
		xs = append(xs, x)
		ys = append(ys, float32(y))
	}
	return stackBatch(xs, ys)
}

// Stream prefetches batches on the configured workers and delivers them in
// order. See parallel.Ordered for channel semantics.
func (l *Loader) Stream(ctx context.Context) <-chan parallel.Result[Batch] {
	return parallel.Ordered(ctx, l.Len(), l.workers, func(_ context.Context, i int) (Batch, error) {
		return l.Batch(i)
	})
}

func stackBatch(xs []*tensor.Tensor, ys []float32) (Batch, error) {
	x, err := tensor.Stack(xs)
	if err != nil {
		return Batch{}, err
	}
	y, err := tensor.FromSlice(ys, tensor.Shape{len(ys)})
	if err != nil {
		return Batch{}, err
	}
	return Batch{X: x, Y: y}, nil
}
