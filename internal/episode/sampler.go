package episode

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/born-ml/fsmaml/internal/dataset"
	"github.com/born-ml/fsmaml/internal/parallel"
)

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	KShot  int
	KQuery int

	Shuffle bool  // Reshuffle each class at every Reset
	Seed    int64 // Seed for Shuffle

	// KeepPartial keeps the trailing batch with fewer than k_shot + k_query
	// examples per task. The Splitter rejects such a batch.
	KeepPartial bool

	Workers int // Prefetch workers for Stream (default: 1)
}

// Sampler produces fixed-size TaskBatches from a class-indexed dataset.
//
// Item j of an epoch holds the j-th example of every class; a batch groups
// k_shot + k_query consecutive items, so every task run in a batch has
// exactly k_shot + k_query examples. Tasks are inserted in ascending class
// order.
type Sampler struct {
	index       *dataset.ClassIndex
	batchSize   int
	items       int
	keepPartial bool
	workers     int

	rng    *rand.Rand
	orders map[int][]int
}

// NewSampler creates a sampler over index.
func NewSampler(index *dataset.ClassIndex, cfg SamplerConfig) (*Sampler, error) {
	if cfg.KShot <= 0 || cfg.KQuery <= 0 {
		return nil, fmt.Errorf("%w: k_shot=%d and k_query=%d must be positive", ErrConfiguration, cfg.KShot, cfg.KQuery)
	}
	batchSize := cfg.KShot + cfg.KQuery
	items := index.MinCount()
	if items < batchSize {
		return nil, fmt.Errorf("%w: smallest class has %d examples, an episode needs %d",
			ErrConfiguration, items, batchSize)
	}

	s := &Sampler{
		index:       index,
		batchSize:   batchSize,
		items:       items,
		keepPartial: cfg.KeepPartial,
		workers:     max(cfg.Workers, 1),
		orders:      make(map[int][]int, index.NumTasks()),
	}
	if cfg.Shuffle {
		s.rng = rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible episode order
	}
	s.Reset()
	return s, nil
}

// Reset starts a new epoch, reshuffling each class when shuffling is on.
//
// Reset must not run concurrently with Batch or Stream.
func (s *Sampler) Reset() {
	for _, c := range s.index.Classes() {
		idx := s.index.Indices(c)
		order := make([]int, len(idx))
		copy(order, idx)
		if s.rng != nil {
			s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		s.orders[c] = order[:s.items]
	}
}

// NumTasks returns the number of tasks (classes) per batch.
func (s *Sampler) NumTasks() int {
	return s.index.NumTasks()
}

// BatchSize returns k_shot + k_query.
func (s *Sampler) BatchSize() int {
	return s.batchSize
}

// Len returns the number of batches per epoch.
func (s *Sampler) Len() int {
	if s.keepPartial {
		return (s.items + s.batchSize - 1) / s.batchSize
	}
	return s.items / s.batchSize
}

// Batch assembles batch i of the current epoch.
func (s *Sampler) Batch(i int) (*TaskBatch, error) {
	if i < 0 || i >= s.Len() {
		return nil, fmt.Errorf("%w: batch %d not in [0, %d)", dataset.ErrIndexRange, i, s.Len())
	}
	start := i * s.batchSize
	end := min(start+s.batchSize, s.items)

	ds := s.index.Dataset()
	batch := NewTaskBatch()
	for _, c := range s.index.Classes() {
		for _, idx := range s.orders[c][start:end] {
			x, _, err := ds.At(idx)
			if err != nil {
				return nil, fmt.Errorf("class %d example %d: %w", c, idx, err)
			}
			batch.Add(c, x)
		}
	}
	return batch, nil
}

// Batches materializes every batch of the current epoch.
func (s *Sampler) Batches() ([]*TaskBatch, error) {
	out := make([]*TaskBatch, s.Len())
	for i := range out {
		b, err := s.Batch(i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Stream prefetches the batches of the current epoch on the configured
// workers, in the same order as Batches.
func (s *Sampler) Stream(ctx context.Context) <-chan parallel.Result[*TaskBatch] {
	return parallel.Ordered(ctx, s.Len(), s.workers, func(_ context.Context, i int) (*TaskBatch, error) {
		return s.Batch(i)
	})
}
