package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/fsmaml/internal/tensor"
)

// CrossEntropy computes mean(-log_softmax(logits)[targets]) over the batch.
//
// logits has shape [batch, classes]; targets holds batch class indices
// stored as float32. Returns a [1] loss tensor and the softmax
// probabilities, which the backward pass reuses.
func (b *Backend) CrossEntropy(logits, targets *tensor.Tensor) (loss, probs *tensor.Tensor) {
	s := logits.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("cpu.CrossEntropy: logits must be 2D [batch, classes], got %v", s))
	}
	batch, classes := s[0], s[1]
	if targets.NumElements() != batch {
		panic(fmt.Sprintf("cpu.CrossEntropy: %d targets for batch of %d", targets.NumElements(), batch))
	}

	probs = tensor.Zeros(s)
	ld, pd, td := logits.Data(), probs.Data(), targets.Data()

	var total float64
	for i := 0; i < batch; i++ {
		target := ClassIndex(td[i])
		if target < 0 || target >= classes {
			panic(fmt.Sprintf("cpu.CrossEntropy: target %v out of range [0, %d)", td[i], classes))
		}
		row := ld[i*classes : (i+1)*classes]
		lse := LogSumExp(row)
		prow := pd[i*classes : (i+1)*classes]
		for j, z := range row {
			prow[j] = float32(math.Exp(float64(z) - lse))
		}
		total += lse - float64(row[target])
	}

	return tensor.Scalar(float32(total / float64(batch))), probs
}

// BCEWithLogits computes mean(max(z,0) - z*y + log(1 + exp(-|z|))).
//
// logits has batch elements (shape [batch] or [batch, 1]); targets holds
// 0/1 values. Returns a [1] loss tensor and sigmoid(logits).
func (b *Backend) BCEWithLogits(logits, targets *tensor.Tensor) (loss, probs *tensor.Tensor) {
	n := logits.NumElements()
	if targets.NumElements() != n {
		panic(fmt.Sprintf("cpu.BCEWithLogits: %d targets for %d logits", targets.NumElements(), n))
	}
	probs = tensor.Zeros(logits.Shape())
	ld, pd, td := logits.Data(), probs.Data(), targets.Data()

	var total float64
	for i, zf := range ld {
		z, y := float64(zf), float64(td[i])
		total += math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
		pd[i] = float32(1 / (1 + math.Exp(-z)))
	}
	return tensor.Scalar(float32(total / float64(n))), probs
}

// LogSumExp computes log(Σ exp(z)) with the max-shift trick.
func LogSumExp(z []float32) float64 {
	maxZ := float64(z[0])
	for _, v := range z[1:] {
		maxZ = math.Max(maxZ, float64(v))
	}
	var sum float64
	for _, v := range z {
		sum += math.Exp(float64(v) - maxZ)
	}
	return maxZ + math.Log(sum)
}

// Argmax returns the index of the largest value (first on ties).
func Argmax(z []float32) int {
	best := 0
	for i := 1; i < len(z); i++ {
		if z[i] > z[best] {
			best = i
		}
	}
	return best
}

// ClassIndex converts a float32 label into an integer class index.
func ClassIndex(v float32) int {
	return int(math.Round(float64(v)))
}
