package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Zeros creates a tensor filled with zeros. Panics on an invalid shape.
func Zeros(shape Shape) *Tensor {
	t, err := New(shape)
	if err != nil {
		panic(fmt.Sprintf("tensor.Zeros: %v", err))
	}
	return t
}

// Full creates a tensor filled with value. Panics on an invalid shape.
func Full(shape Shape, value float32) *Tensor {
	t := Zeros(shape)
	t.Fill(value)
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return Full(shape, 1)
}

// Scalar creates a single-element tensor of shape [1].
func Scalar(v float32) *Tensor {
	return Full(Shape{1}, v)
}

// Randn creates a tensor with values drawn from N(0, 1).
//
// A nil rng uses the global math/rand source.
func Randn(shape Shape, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		if rng != nil {
			t.data[i] = float32(rng.NormFloat64())
		} else {
			t.data[i] = float32(rand.NormFloat64()) //nolint:gosec // Weight init, not crypto.
		}
	}
	return t
}

// Uniform creates a tensor with values drawn from U(-bound, bound).
func Uniform(shape Shape, bound float64, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		var u float64
		if rng != nil {
			u = rng.Float64()
		} else {
			u = rand.Float64() //nolint:gosec // Weight init, not crypto.
		}
		t.data[i] = float32((u*2.0 - 1.0) * bound)
	}
	return t
}

// Xavier creates a tensor with Xavier/Glorot uniform initialization.
//
// Values are drawn from U(-a, a) where a = sqrt(6 / (fanIn + fanOut)).
func Xavier(fanIn, fanOut int, shape Shape, rng *rand.Rand) *Tensor {
	return Uniform(shape, math.Sqrt(6.0/float64(fanIn+fanOut)), rng)
}
