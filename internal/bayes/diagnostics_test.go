package bayes

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func iidChains(rng *rand.Rand, m, n int, shift func(c int) float64) [][]float64 {
	out := make([][]float64, m)
	for c := range out {
		out[c] = make([]float64, n)
		for i := range out[c] {
			out[c][i] = rng.NormFloat64() + shift(c)
		}
	}
	return out
}

func TestRHat_IIDChainsConverge(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	chains := iidChains(rng, 4, 2000, func(int) float64 { return 0 })
	r := RHat(chains)
	assert.Less(t, r, 1.01)
	assert.Greater(t, r, 0.99)
}

func TestRHat_ShiftedChainFails(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	chains := iidChains(rng, 4, 500, func(c int) float64 {
		if c == 0 {
			return 3
		}
		return 0
	})
	assert.Greater(t, RHat(chains), 1.1)
}

func TestRHat_TrendWithinChainFails(t *testing.T) {
	// Each chain drifts, which only the split halves reveal.
	chains := make([][]float64, 2)
	for c := range chains {
		chains[c] = make([]float64, 400)
		for i := range chains[c] {
			chains[c][i] = float64(i) / 100
		}
	}
	assert.Greater(t, RHat(chains), 1.1)
}

func TestRHat_Degenerate(t *testing.T) {
	assert.True(t, math.IsNaN(RHat([][]float64{{1, 1, 1, 1}, {1, 1, 1, 1}})))
	assert.True(t, math.IsNaN(RHat([][]float64{{1}})))
}

func TestESS_IIDNearTotal(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	chains := iidChains(rng, 4, 1000, func(int) float64 { return 0 })
	ess := ESS(chains)
	assert.Greater(t, ess, 2500.0)
	assert.LessOrEqual(t, ess, 4000*math.Log10(4000))
}

func TestESS_AutocorrelatedIsSmaller(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	const phi = 0.9
	chains := make([][]float64, 4)
	for c := range chains {
		chains[c] = make([]float64, 1000)
		x := 0.0
		for i := range chains[c] {
			x = phi*x + rng.NormFloat64()
			chains[c][i] = x
		}
	}
	// Integrated autocorrelation time (1+phi)/(1-phi) = 19, so roughly 210.
	ess := ESS(chains)
	assert.Less(t, ess, 600.0)
	assert.Greater(t, ess, 50.0)
}

func TestAutocovarianceMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	x := make([]float64, 64)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	got := autocovariance(x)
	for _, lag := range []int{0, 1, 5, 63} {
		var want float64
		for i := 0; i+lag < len(x); i++ {
			want += (x[i] - mean) * (x[i+lag] - mean)
		}
		want /= float64(len(x))
		assert.InDelta(t, want, got[lag], 1e-9, "lag %d", lag)
	}
}
