package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// glorotUniform fills w from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
}

// orthogonal fills the rows×cols row-major matrix w with an orthogonal
// matrix: orthonormal rows when rows <= cols, orthonormal columns otherwise.
func orthogonal(rng *rand.Rand, w []float64, rows, cols int) {
	m, n := max(rows, cols), min(rows, cols)
	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	// Fix the sign ambiguity of QR so the result is uniformly distributed.
	sign := make([]float64, n)
	for j := 0; j < n; j++ {
		sign[j] = 1
		if r.At(j, j) < 0 {
			sign[j] = -1
		}
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := q.At(i, j) * sign[j]
			if rows < cols {
				w[j*cols+i] = v
			} else {
				w[i*cols+j] = v
			}
		}
	}
}

func relu(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
