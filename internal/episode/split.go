package episode

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// Split holds the positional support/query partition of a TaskBatch.
type Split struct {
	Tasks    []int
	Support  map[int][]*tensor.Tensor
	Query    map[int][]*tensor.Tensor
	Overflow int // examples per task beyond k_shot + k_query, folded into Query
}

// Episode holds the stacked tensors of one episode.
//
// Labels are float32 tensors of shape [N]: the class id in single-task mode,
// 1 for the positive task and 0 otherwise in binary mode.
type Episode struct {
	SupportX *tensor.Tensor
	SupportY *tensor.Tensor
	QueryX   *tensor.Tensor
	QueryY   *tensor.Tensor
}

// Splitter partitions task batches into support and query sets.
//
// The first KShot examples of every task form the support set, the rest the
// query set. When Rand is set, support rows and query rows are permuted
// independently after stacking; which examples land in support is unchanged.
type Splitter struct {
	KShot  int
	KQuery int

	// Rand enables row shuffling within each set. Nil keeps batch order.
	Rand *rand.Rand

	// OnWarning receives ErrDataUsage warnings. Nil drops them.
	OnWarning func(error)
}

// Split partitions every task of batch.
func (s *Splitter) Split(batch *TaskBatch) (*Split, error) {
	if s.KShot <= 0 || s.KQuery <= 0 {
		return nil, fmt.Errorf("%w: k_shot=%d and k_query=%d must be positive", ErrConfiguration, s.KShot, s.KQuery)
	}
	seqLen, err := batch.SeqLen()
	if err != nil {
		return nil, err
	}

	want := s.KShot + s.KQuery
	if want > seqLen {
		return nil, fmt.Errorf("%w: k_shot + k_query = %d exceeds %d examples per task",
			ErrConfiguration, want, seqLen)
	}

	out := &Split{
		Tasks:    batch.Tasks(),
		Support:  make(map[int][]*tensor.Tensor, batch.Len()),
		Query:    make(map[int][]*tensor.Tensor, batch.Len()),
		Overflow: seqLen - want,
	}
	if out.Overflow > 0 && s.OnWarning != nil {
		s.OnWarning(fmt.Errorf("%w: k_shot + k_query = %d < %d examples per task, query sets get %d",
			ErrDataUsage, want, seqLen, seqLen-s.KShot))
	}

	for _, t := range out.Tasks {
		xs, _ := batch.Get(t)
		out.Support[t] = xs[:s.KShot]
		out.Query[t] = xs[s.KShot:]
	}
	return out, nil
}

// SingleTask returns the episode of one task with its class id as label.
func (s *Splitter) SingleTask(batch *TaskBatch, task int) (*Episode, error) {
	split, err := s.Split(batch)
	if err != nil {
		return nil, err
	}
	return s.SingleTaskOf(split, task)
}

// SingleTaskOf is SingleTask over an existing split.
func (s *Splitter) SingleTaskOf(split *Split, task int) (*Episode, error) {
	if err := split.check(task); err != nil {
		return nil, err
	}
	label := float32(task)
	return s.build(split.Support[task], split.Query[task],
		constant(len(split.Support[task]), label), constant(len(split.Query[task]), label))
}

// Binary returns the episode of all tasks in batch order, labelled 1 for
// task and 0 for every other task.
func (s *Splitter) Binary(batch *TaskBatch, task int) (*Episode, error) {
	split, err := s.Split(batch)
	if err != nil {
		return nil, err
	}
	return s.BinaryOf(split, task)
}

// BinaryOf is Binary over an existing split.
func (s *Splitter) BinaryOf(split *Split, task int) (*Episode, error) {
	if err := split.check(task); err != nil {
		return nil, err
	}
	var supX, qryX []*tensor.Tensor
	var supY, qryY []float32
	for _, t := range split.Tasks {
		var label float32
		if t == task {
			label = 1
		}
		supX = append(supX, split.Support[t]...)
		qryX = append(qryX, split.Query[t]...)
		supY = append(supY, constant(len(split.Support[t]), label)...)
		qryY = append(qryY, constant(len(split.Query[t]), label)...)
	}
	return s.build(supX, qryX, supY, qryY)
}

func (sp *Split) check(task int) error {
	if sp == nil {
		return fmt.Errorf("%w: nil split", ErrInvalidArgument)
	}
	if _, ok := sp.Support[task]; !ok {
		return fmt.Errorf("%w: %d (have %v)", ErrInvalidTask, task, sp.Tasks)
	}
	return nil
}

func (s *Splitter) build(supX, qryX []*tensor.Tensor, supY, qryY []float32) (*Episode, error) {
	ep := &Episode{}
	var err error
	if ep.SupportX, ep.SupportY, err = stack(supX, supY); err != nil {
		return nil, fmt.Errorf("support set: %w", err)
	}
	if ep.QueryX, ep.QueryY, err = stack(qryX, qryY); err != nil {
		return nil, fmt.Errorf("query set: %w", err)
	}
	if s.Rand == nil {
		return ep, nil
	}

	if ep.SupportX, ep.SupportY, err = s.shuffle(ep.SupportX, ep.SupportY); err != nil {
		return nil, err
	}
	if ep.QueryX, ep.QueryY, err = s.shuffle(ep.QueryX, ep.QueryY); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *Splitter) shuffle(x, y *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	perm := s.Rand.Perm(y.NumElements())
	px, err := x.SelectRows(perm)
	if err != nil {
		return nil, nil, err
	}
	py, err := y.SelectRows(perm)
	if err != nil {
		return nil, nil, err
	}
	return px, py, nil
}

func stack(xs []*tensor.Tensor, ys []float32) (*tensor.Tensor, *tensor.Tensor, error) {
	x, err := tensor.Stack(xs)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.FromSlice(ys, tensor.Shape{len(ys)})
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
