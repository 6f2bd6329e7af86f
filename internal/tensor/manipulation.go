package tensor

import "fmt"

// Stack joins tensors of identical shape along a new leading dimension.
//
// Stacking N tensors of shape [d0, d1] yields shape [N, d0, d1].
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor.Stack: %w", ErrEmptyInput)
	}
	inner := ts[0].shape
	n := inner.NumElements()
	out := make([]float32, 0, n*len(ts))
	for i, t := range ts {
		if !t.shape.Equal(inner) {
			return nil, fmt.Errorf("tensor.Stack: %w: element %d has shape %v, want %v",
				ErrShapeMismatch, i, t.shape, inner)
		}
		out = append(out, t.data...)
	}
	shape := make(Shape, 0, len(inner)+1)
	shape = append(shape, len(ts))
	shape = append(shape, inner...)
	return &Tensor{shape: shape, data: out}, nil
}

// SelectRows gathers rows (entries of the leading dimension) in the given order.
func (t *Tensor) SelectRows(idx []int) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("tensor.SelectRows: %w: scalar tensor", ErrInvalidShape)
	}
	rows := t.shape[0]
	stride := len(t.data) / rows
	out := make([]float32, 0, stride*len(idx))
	for _, r := range idx {
		if r < 0 || r >= rows {
			return nil, fmt.Errorf("tensor.SelectRows: row %d out of range [0, %d)", r, rows)
		}
		out = append(out, t.data[r*stride:(r+1)*stride]...)
	}
	shape := t.shape.Clone()
	shape[0] = len(idx)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor.SelectRows: %w", err)
	}
	return &Tensor{shape: shape, data: out}, nil
}

// Row returns a copy of row i as a tensor of shape t.Shape()[1:].
func (t *Tensor) Row(i int) (*Tensor, error) {
	r, err := t.SelectRows([]int{i})
	if err != nil {
		return nil, err
	}
	if len(t.shape) == 1 {
		return r, nil
	}
	return r.View(t.shape[1:])
}
