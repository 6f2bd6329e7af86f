// Package dataset provides the labeled example sources the meta-learner
// samples episodes from and evaluates on.
//
// This package provides:
//   - Dataset interface: indexed (input, label) access
//   - InMemory: slice-backed dataset
//   - ClassIndex: per-class example indices, the "tasks" of an episode
//   - OneVsRest: binary relabelling for discriminator evaluation
//   - MNIST IDX loading, and synthetic Gaussian blobs for tests and demos
//   - Loader: batched, prefetching iteration for evaluation
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// Errors returned by dataset constructors and accessors.
var (
	ErrEmptyDataset   = errors.New("dataset is empty")
	ErrLengthMismatch = errors.New("inputs and labels have different lengths")
	ErrIndexRange     = errors.New("index out of range")
	ErrInvalidFormat  = errors.New("invalid file format")
)

// Dataset is a finite, indexed collection of labeled examples.
type Dataset interface {
	// Len returns the number of examples.
	Len() int

	// At returns the input tensor and integer class label of example i.
	At(i int) (*tensor.Tensor, int, error)
}

// InMemory is a Dataset backed by slices.
type InMemory struct {
	inputs []*tensor.Tensor
	labels []int
}

// NewInMemory creates a dataset from parallel input and label slices.
func NewInMemory(inputs []*tensor.Tensor, labels []int) (*InMemory, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("%w: %d inputs, %d labels", ErrLengthMismatch, len(inputs), len(labels))
	}
	return &InMemory{inputs: inputs, labels: labels}, nil
}

// Len returns the number of examples.
func (d *InMemory) Len() int {
	return len(d.inputs)
}

// At returns example i.
func (d *InMemory) At(i int) (*tensor.Tensor, int, error) {
	if i < 0 || i >= len(d.inputs) {
		return nil, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, i, len(d.inputs))
	}
	return d.inputs[i], d.labels[i], nil
}

// Labels returns the label slice (not a copy).
func (d *InMemory) Labels() []int {
	return d.labels
}

// Subset is a view of a Dataset restricted to the given indices.
type Subset struct {
	parent  Dataset
	indices []int
}

// NewSubset creates a view of parent over indices.
func NewSubset(parent Dataset, indices []int) *Subset {
	return &Subset{parent: parent, indices: indices}
}

// Len returns the number of selected examples.
func (s *Subset) Len() int {
	return len(s.indices)
}

// At returns the i-th selected example.
func (s *Subset) At(i int) (*tensor.Tensor, int, error) {
	if i < 0 || i >= len(s.indices) {
		return nil, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, i, len(s.indices))
	}
	return s.parent.At(s.indices[i])
}

// ClassIndex groups example indices by class label.
//
// Each class is one task of an episode. Classes are kept in ascending order
// so the sampler inserts tasks deterministically.
type ClassIndex struct {
	ds      Dataset
	classes []int
	byClass map[int][]int
}

// NewClassIndex scans ds and groups indices by label.
//
// When keep is non-empty only those classes are indexed.
func NewClassIndex(ds Dataset, keep ...int) (*ClassIndex, error) {
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}

	allowed := make(map[int]bool, len(keep))
	for _, c := range keep {
		allowed[c] = true
	}

	byClass := make(map[int][]int)
	for i := 0; i < ds.Len(); i++ {
		_, label, err := ds.At(i)
		if err != nil {
			return nil, fmt.Errorf("indexing example %d: %w", i, err)
		}
		if len(allowed) > 0 && !allowed[label] {
			continue
		}
		byClass[label] = append(byClass[label], i)
	}
	if len(byClass) == 0 {
		return nil, fmt.Errorf("%w: no examples for classes %v", ErrEmptyDataset, keep)
	}

	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	return &ClassIndex{ds: ds, classes: classes, byClass: byClass}, nil
}

// Dataset returns the indexed dataset.
func (c *ClassIndex) Dataset() Dataset {
	return c.ds
}

// Classes returns the class labels in ascending order.
func (c *ClassIndex) Classes() []int {
	return c.classes
}

// NumTasks returns the number of classes.
func (c *ClassIndex) NumTasks() int {
	return len(c.classes)
}

// Indices returns the dataset indices of class.
func (c *ClassIndex) Indices(class int) []int {
	return c.byClass[class]
}

// MinCount returns the size of the smallest class.
func (c *ClassIndex) MinCount() int {
	least := -1
	for _, idx := range c.byClass {
		if least < 0 || len(idx) < least {
			least = len(idx)
		}
	}
	return least
}

// OneVsRest relabels a dataset for binary evaluation: examples of positive
// get label 1, every other example label 0.
type OneVsRest struct {
	parent   Dataset
	positive int
}

// NewOneVsRest wraps parent.
func NewOneVsRest(parent Dataset, positive int) *OneVsRest {
	return &OneVsRest{parent: parent, positive: positive}
}

// Len returns the number of examples.
func (o *OneVsRest) Len() int {
	return o.parent.Len()
}

// At returns example i with its binary label.
func (o *OneVsRest) At(i int) (*tensor.Tensor, int, error) {
	x, y, err := o.parent.At(i)
	if err != nil {
		return nil, 0, err
	}
	if y == o.positive {
		return x, 1, nil
	}
	return x, 0, nil
}
