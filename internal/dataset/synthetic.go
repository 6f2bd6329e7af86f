package dataset

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// SyntheticConfig describes a Gaussian blob dataset.
type SyntheticConfig struct {
	Classes  int     // Number of classes (default: 4)
	PerClass int     // Examples per class (default: 50)
	Dim      int     // Input dimension (default: 8)
	Spread   float64 // Stddev around each class center (default: 0.5)
	Seed     int64   // RNG seed
}

// NewSynthetic generates well-separated Gaussian blobs, one per class.
//
// Class c is centred at 3 * e_(c mod Dim) scaled by (1 + c/Dim), so
// classes stay distinguishable when there are more classes than dimensions.
// Examples are interleaved by class. The result is fully determined by cfg.
func NewSynthetic(cfg SyntheticConfig) (*InMemory, error) {
	if cfg.Classes == 0 {
		cfg.Classes = 4
	}
	if cfg.PerClass == 0 {
		cfg.PerClass = 50
	}
	if cfg.Dim == 0 {
		cfg.Dim = 8
	}
	if cfg.Spread == 0 {
		cfg.Spread = 0.5
	}
	if cfg.Classes < 0 || cfg.PerClass < 0 || cfg.Dim < 0 || cfg.Spread < 0 {
		return nil, fmt.Errorf("synthetic dataset: negative size in %+v", cfg)
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // deterministic data generation

	n := cfg.Classes * cfg.PerClass
	inputs := make([]*tensor.Tensor, 0, n)
	labels := make([]int, 0, n)
	for i := 0; i < cfg.PerClass; i++ {
		for c := 0; c < cfg.Classes; c++ {
			data := make([]float32, cfg.Dim)
			for j := range data {
				data[j] = float32(rng.NormFloat64() * cfg.Spread)
			}
			data[c%cfg.Dim] += float32(3 * (1 + float64(c/cfg.Dim)))
			t, err := tensor.FromSlice(data, tensor.Shape{cfg.Dim})
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, t)
			labels = append(labels, c)
		}
	}
	return NewInMemory(inputs, labels)
}
