package nn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// dropout zeroes a fraction rate of its inputs during training and scales
// the rest by 1/(1-rate). It is the identity at inference.
type dropout struct {
	rate float64
	rng  *rand.Rand
	mask []float64
}

func Dropout(rate float64) Layer { return &dropout{rate: rate} }

func (l *dropout) Spec() LayerSpec { return LayerSpec{Kind: KindDropout, Rate: l.rate} }

func (l *dropout) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if l.rate < 0 || l.rate >= 1 {
		return Shape{}, errors.Errorf("dropout: rate must be in [0,1), got %v", l.rate)
	}
	l.rng = rng
	return in, nil
}

func (l *dropout) Params() []*Param { return nil }

func (l *dropout) Forward(x *Tensor, training bool) *Tensor {
	if !training || l.rate == 0 {
		l.mask = nil
		return x
	}
	if len(l.mask) != len(x.Data) {
		l.mask = make([]float64, len(x.Data))
	}
	keep := 1 / (1 - l.rate)
	y := &Tensor{B: x.B, T: x.T, C: x.C, Data: make([]float64, len(x.Data))}
	for i, v := range x.Data {
		if l.rng.Float64() < l.rate {
			l.mask[i] = 0
			continue
		}
		l.mask[i] = keep
		y.Data[i] = v * keep
	}
	return y
}

func (l *dropout) Backward(dy *Tensor) *Tensor {
	if l.mask == nil {
		return dy
	}
	dx := &Tensor{B: dy.B, T: dy.T, C: dy.C, Data: make([]float64, len(dy.Data))}
	for i, g := range dy.Data {
		dx.Data[i] = g * l.mask[i]
	}
	return dx
}
