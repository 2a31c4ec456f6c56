package nn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// maxPool1d takes the maximum of non-overlapping windows of pool steps.
// Trailing steps that do not fill a window are dropped.
type maxPool1d struct {
	pool   int
	in     Shape
	argmax []int
}

func MaxPool1D(pool int) Layer { return &maxPool1d{pool: pool} }

func (l *maxPool1d) Spec() LayerSpec { return LayerSpec{Kind: KindMaxPool, Pool: l.pool} }

func (l *maxPool1d) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if l.pool <= 0 {
		return Shape{}, errors.Errorf("max_pooling1d: pool must be positive, got %d", l.pool)
	}
	if in.Steps < l.pool {
		return Shape{}, errors.Errorf("max_pooling1d: %d steps cannot be pooled by %d", in.Steps, l.pool)
	}
	l.in = in
	return Shape{Steps: in.Steps / l.pool, Features: in.Features}, nil
}

func (l *maxPool1d) Params() []*Param { return nil }

func (l *maxPool1d) Forward(x *Tensor, training bool) *Tensor {
	tOut := x.T / l.pool
	y := NewTensor(x.B, tOut, x.C)
	if len(l.argmax) != len(y.Data) {
		l.argmax = make([]int, len(y.Data))
	}
	for b := 0; b < x.B; b++ {
		for t := 0; t < tOut; t++ {
			out := y.Row(b, t)
			base := (b*tOut + t) * x.C
			for c := range out {
				best := (b*x.T+t*l.pool)*x.C + c
				for j := 1; j < l.pool; j++ {
					i := (b*x.T+t*l.pool+j)*x.C + c
					if x.Data[i] > x.Data[best] {
						best = i
					}
				}
				out[c] = x.Data[best]
				l.argmax[base+c] = best
			}
		}
	}
	return y
}

func (l *maxPool1d) Backward(dy *Tensor) *Tensor {
	dx := NewTensor(dy.B, l.in.Steps, dy.C)
	for i, g := range dy.Data {
		dx.Data[l.argmax[i]] += g
	}
	return dx
}
