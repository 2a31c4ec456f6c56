package nn

import "math"

// adam keeps first and second moment estimates per trainable param.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(lr float64, params []*Param) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p.Value)))
		a.v = append(a.v, make([]float64, len(p.Value)))
	}
	return a
}

// step applies one update from the accumulated gradients and zeroes them.
func (a *adam) step(params []*Param) {
	a.t++
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, float64(a.t))) / (1 - math.Pow(a.beta1, float64(a.t)))
	for i, p := range params {
		if !p.Trainable {
			continue
		}
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			p.Value[j] -= lrT * m[j] / (math.Sqrt(v[j]) + a.eps)
			p.Grad[j] = 0
		}
	}
}
