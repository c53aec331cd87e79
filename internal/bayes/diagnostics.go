package bayes

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// splitChains halves every chain, dropping the middle draw of odd lengths,
// so within-chain drift shows up as between-chain disagreement.
func splitChains(chains [][]float64) [][]float64 {
	out := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		half := len(c) / 2
		out = append(out, c[:half], c[len(c)-half:])
	}
	return out
}

// RHat is the split potential scale reduction factor. It is NaN when the
// within-chain variance is zero or there are fewer than two draws per half.
func RHat(chains [][]float64) float64 {
	split := splitChains(chains)
	if len(split) < 2 || len(split[0]) < 2 {
		return math.NaN()
	}
	w, varPlus := withinAndPooled(split)
	if w == 0 {
		return math.NaN()
	}
	return math.Sqrt(varPlus / w)
}

// withinAndPooled returns W, the mean within-chain variance, and the pooled
// estimate var+ = (n-1)/n·W + B/n.
func withinAndPooled(chains [][]float64) (w, varPlus float64) {
	n := float64(len(chains[0]))
	means := make([]float64, len(chains))
	for i, c := range chains {
		var v float64
		means[i], v = stat.MeanVariance(c, nil)
		w += v
	}
	w /= float64(len(chains))
	bOverN := 0.0
	if len(chains) > 1 {
		bOverN = stat.Variance(means, nil)
	}
	return w, (n-1)/n*w + bOverN
}

// autocovariance returns the biased autocovariance of x at every lag,
// computed through a zero-padded FFT.
func autocovariance(x []float64) []float64 {
	n := len(x)
	mean := stat.Mean(x, nil)
	size := 2 * n
	padded := make([]float64, size)
	for i, v := range x {
		padded[i] = v - mean
	}
	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = c * cmplx.Conj(c)
	}
	seq := fft.Sequence(nil, coeff)
	acov := make([]float64, n)
	for t := range acov {
		acov[t] = seq[t] / float64(size) / float64(n)
	}
	return acov
}

// ESS is the effective sample size across split chains, combining the
// chains' autocorrelations and truncating with Geyer's initial monotone
// sequence.
func ESS(chains [][]float64) float64 {
	split := splitChains(chains)
	if len(split) < 2 || len(split[0]) < 4 {
		return math.NaN()
	}
	m := len(split)
	n := len(split[0])
	w, varPlus := withinAndPooled(split)
	if w == 0 || varPlus == 0 {
		return math.NaN()
	}

	meanAcov := make([]float64, n)
	for _, c := range split {
		for t, v := range autocovariance(c) {
			meanAcov[t] += v / float64(m)
		}
	}
	rho := make([]float64, n)
	rho[0] = 1
	for t := 1; t < n; t++ {
		rho[t] = 1 - (w-meanAcov[t])/varPlus
	}

	tau := 0.0
	prev := math.Inf(1)
	for k := 0; 2*k+1 < n; k++ {
		p := rho[2*k] + rho[2*k+1]
		if p < 0 {
			break
		}
		if p > prev {
			p = prev
		}
		prev = p
		tau += 2 * p
	}
	tau--

	total := float64(m * n)
	if tau <= 0 {
		return total * math.Log10(total)
	}
	return math.Min(total/tau, total*math.Log10(total))
}
