package nn

import "math"

const probEpsilon = 1e-7

// SparseCrossEntropy returns the mean over the batch of -w[y]·log(p[y]) and
// its gradient with respect to the probabilities. Probabilities are clipped
// to [1e-7, 1-1e-7]; weights may be nil.
func SparseCrossEntropy(probs *Tensor, y []int, weights []float64) (float64, *Tensor) {
	k := probs.C
	grad := &Tensor{B: probs.B, T: probs.T, C: k, Data: make([]float64, len(probs.Data))}
	var loss float64
	scale := 1 / float64(probs.B)
	for b, label := range y {
		w := 1.0
		if weights != nil {
			w = weights[label]
		}
		p := probs.Data[b*k+label]
		clipped := math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
		loss -= w * math.Log(clipped)
		if p == clipped {
			grad.Data[b*k+label] = -w * scale / clipped
		}
	}
	return loss * scale, grad
}

// argmax returns the index of the largest value in v.
func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
