// Package signal holds the sample-rate conversion used before epoching.
package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Resample converts x from rate `from` to rate `to` (Hz) in the frequency
// domain: the spectrum is truncated when downsampling, which removes
// everything above the new Nyquist frequency, and zero-padded when
// upsampling. The input is mirror-padded to a length with small prime
// factors so the FFT stays fast and edge wrap-around is damped.
//
// Equal rates return a copy of x.
func Resample(x []float64, from, to float64) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resample: rates must be positive (from=%v to=%v)", from, to)
	}
	if len(x) == 0 {
		return nil, nil
	}
	if from == to {
		return append([]float64(nil), x...), nil
	}
	ratio := to / from
	want := int(math.Round(float64(len(x)) * ratio))
	if want == 0 {
		return nil, nil
	}

	left := len(x)/16 + 1
	total := nextSmooth(len(x) + 2*left)
	padded := mirrorPad(x, left, total-len(x)-left)
	m := int(math.Round(float64(total) * ratio))
	y := resampleFFT(padded, m)

	off := int(math.Round(float64(left) * ratio))
	if off+want > len(y) {
		off = len(y) - want
	}
	return y[off : off+want], nil
}

// resampleFFT returns the m-sample band-limited interpolation of x.
func resampleFFT(x []float64, m int) []float64 {
	n := len(x)
	X := fourier.NewFFT(n).Coefficients(nil, x)
	Y := make([]complex128, m/2+1)
	N := n
	if m < N {
		N = m
	}
	copy(Y, X[:N/2+1])
	if N%2 == 0 {
		switch {
		case m < n:
			// X[N/2] and its mirror alias onto the same output bin.
			Y[N/2] = complex(2*real(Y[N/2]), 0)
		case m > n:
			// Split the old Nyquist bin between +N/2 and -N/2.
			Y[N/2] *= 0.5
		}
	}
	y := fourier.NewFFT(m).Sequence(nil, Y)
	// Sequence is unnormalised; dividing by the input length gives the
	// interpolated values at the new sample times.
	scale := 1 / float64(n)
	for i := range y {
		y[i] *= scale
	}
	return y
}

// nextSmooth returns the smallest integer >= n whose only prime factors are
// 2, 3 and 5.
func nextSmooth(n int) int {
	if n <= 1 {
		return 1
	}
	for k := n; ; k++ {
		r := k
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return k
		}
	}
}

// mirrorPad reflects left and right samples around the ends without
// repeating the edge sample. Short inputs are reflected repeatedly.
func mirrorPad(x []float64, left, right int) []float64 {
	n := len(x)
	out := make([]float64, left+n+right)
	copy(out[left:], x)
	at := func(i int) float64 {
		if n == 1 {
			return x[0]
		}
		period := 2 * (n - 1)
		i %= period
		if i < 0 {
			i += period
		}
		if i >= n {
			i = period - i
		}
		return x[i]
	}
	for i := 0; i < left; i++ {
		out[i] = at(i - left)
	}
	for i := 0; i < right; i++ {
		out[left+n+i] = at(n + i)
	}
	return out
}
