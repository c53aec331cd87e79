package bayes

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/lineup-matchups/internal/aggregator"
	"github.com/pable/lineup-matchups/internal/lineup"
	"github.com/pable/lineup-matchups/internal/model"
)

func label(i int) string { return "m" + string(rune('0'+i%10)) }

func TestPredict_WorkedExample(t *testing.T) {
	offArch := [5]int{2, 2, 5, 0, 7}
	key, err := lineup.Canonicalize(offArch)
	require.NoError(t, err)
	assert.Equal(t, model.LineupKey("0_2_2_5_7"), key)

	zOff := aggregator.ZVectors(offArch, [5]float64{1.0, 2.0, 0.5, 3.0, 1.5})
	zDef := aggregator.ZVectors([5]int{1, 1, 1, 3, 3}, [5]float64{0.5, 0.5, 1.0, 2.0, 1.0})
	assert.Equal(t, [8]float64{3.0, 0, 3.0, 0, 0, 0.5, 0, 1.5}, zOff)
	assert.Equal(t, [8]float64{0, 2.0, 0, 3.0, 0, 0, 0, 0}, zDef)

	c := model.Coefficients{
		Beta0:   1.0,
		BetaOff: [8]float64{0.1, 0, 0.2, 0, 0, 0.4, 0, 0.05},
		BetaDef: [8]float64{0, 0.25, 0, 0.1, 0, 0, 0, 0},
	}
	// 1 + (3·0.1 + 3·0.2 + 0.5·0.4 + 1.5·0.05) - (2·0.25 + 3·0.1)
	want := 1.0 + (0.3 + 0.6 + 0.2 + 0.075) - (0.5 + 0.3)
	assert.InDelta(t, 1.375, want, 1e-12)
	assert.InDelta(t, want, Predict(c, model.TrainingRow{ZOff: zOff, ZDef: zDef}), 1e-12)
}

func randomRows(rng *rand.Rand, n int, matchups []int) []model.TrainingRow {
	rows := make([]model.TrainingRow, n)
	for i := range rows {
		rows[i].Matchup = matchups[i%len(matchups)]
		rows[i].Outcome = rng.IntN(4)
		for a := 0; a < model.NumArchetypes; a++ {
			rows[i].ZOff[a] = rng.Float64() * 2
			rows[i].ZDef[a] = rng.Float64() * 2
		}
	}
	return rows
}

func TestLogDensity_GradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	rows := randomRows(rng, 12, []int{3, 7})
	for _, v := range []model.Variant{model.VariantHierarchical, model.VariantPooled} {
		layout := NewLayout(v, rows)
		post := newPosterior(layout, DefaultPrior(), rows)
		theta := make([]float64, layout.Dim())
		for i := range theta {
			theta[i] = rng.Float64() - 0.5
		}
		grad := make([]float64, len(theta))
		post.logDensity(theta, grad)

		scratch := make([]float64, len(theta))
		const h = 1e-6
		for j := range theta {
			orig := theta[j]
			theta[j] = orig + h
			up := post.logDensity(theta, scratch)
			theta[j] = orig - h
			down := post.logDensity(theta, scratch)
			theta[j] = orig
			fd := (up - down) / (2 * h)
			assert.InDelta(t, fd, grad[j], 1e-4*math.Max(1, math.Abs(fd)), "%s param %d", v, j)
		}
	}
}

func TestLayout(t *testing.T) {
	rows := []model.TrainingRow{{Matchup: 7}, {Matchup: 3}, {Matchup: 7}}
	h := NewLayout(model.VariantHierarchical, rows)
	assert.Equal(t, []int{3, 7}, h.Matchups)
	assert.Equal(t, 2*17+1, h.Dim())
	names := h.Names(func(i int) string { return map[int]string{3: "O0-D3", 7: "O1-D1"}[i] })
	assert.Equal(t, "beta_0[O0-D3]", names[0])
	assert.Equal(t, "beta_off[O0-D3,0]", names[1])
	assert.Equal(t, "beta_def[O1-D1,7]", names[33])
	assert.Equal(t, "sigma", names[34])

	p := NewLayout(model.VariantPooled, rows)
	assert.Equal(t, 18, p.Dim())
	pn := p.Names(label)
	assert.Equal(t, "beta_0", pn[0])
	assert.Equal(t, "beta_off[2]", pn[3])
}

func TestSelectVariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	all := make([]int, 36)
	for i := range all {
		all[i] = i
	}
	// 36 matchups need 613 params; 1000 rows is under 5 per param.
	sparse := randomRows(rng, 1000, all)
	assert.Equal(t, model.VariantPooled, SelectVariant(sparse, 5, ""))
	assert.Equal(t, model.VariantHierarchical, SelectVariant(sparse, 5, model.VariantHierarchical))

	// 2 matchups need 35 params; 200 rows is over 5 per param.
	dense := randomRows(rng, 200, []int{0, 1})
	assert.Equal(t, model.VariantHierarchical, SelectVariant(dense, 5, ""))
}

func TestSubsample(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	rows := randomRows(rng, 100, []int{0})
	for i := range rows {
		rows[i].EventNum = i
	}
	a := Subsample(rows, 30, 11)
	b := Subsample(rows, 30, 11)
	require.Len(t, a, 30)
	assert.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		assert.Less(t, a[i-1].EventNum, a[i].EventNum)
	}
	assert.Len(t, Subsample(rows, 0, 11), 100)
	assert.Len(t, Subsample(rows, 500, 11), 100)
}

func TestMetricWindows(t *testing.T) {
	start, ends := metricWindows(1000)
	assert.Equal(t, 75, start)
	assert.Equal(t, 950, ends[len(ends)-1])
	for i := 1; i < len(ends); i++ {
		assert.Greater(t, ends[i], ends[i-1])
	}

	start, ends = metricWindows(100)
	assert.Equal(t, 15, start)
	assert.Equal(t, []int{90}, ends)

	_, ends = metricWindows(10)
	assert.Nil(t, ends)
}

func TestFit_RecoversPooledCoefficients(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	truth := model.Coefficients{
		Beta0:   1.0,
		BetaOff: [8]float64{0.5, 0, 0, 0, 0, 0, 0, 0},
		BetaDef: [8]float64{0, 0.3, 0, 0, 0, 0, 0, 0},
	}
	const sigma = 0.5
	rows := make([]model.TrainingRow, 400)
	y := make([]float64, len(rows))
	for i := range rows {
		rows[i].Matchup = i % 4
		for a := 0; a < model.NumArchetypes; a++ {
			rows[i].ZOff[a] = rng.Float64() * 2
			rows[i].ZDef[a] = rng.Float64() * 2
		}
		y[i] = Predict(truth, rows[i]) + sigma*rng.NormFloat64()
	}
	// TrainingRow outcomes are whole points; feed the continuous responses
	// to the posterior directly.
	layout := NewLayout(model.VariantPooled, rows)
	post := newPosterior(layout, DefaultPrior(), rows)
	copy(post.y, y)

	opts := Options{Chains: 2, Warmup: 300, Samples: 300, Seed: 42}.withDefaults()
	draws := make([][][]float64, opts.Chains)
	for ci := range draws {
		c := newChain(ci, post.logDensity, layout.Dim(), opts.Seed, opts.MaxTreeDepth, opts.TargetAccept)
		res, err := c.run(context.Background(), post.initialPoint(c.rng), opts.Warmup, opts.Samples, nil)
		require.NoError(t, err)
		for _, d := range res.draws {
			d[layout.logSigma()] = math.Exp(d[layout.logSigma()])
		}
		draws[ci] = res.draws
	}
	p := &Posterior{Layout: layout, Names: layout.Names(label), Draws: draws, Divergences: make([]int, 2)}
	summary := Summarize(p)
	coef := Coefficients(p, summary, 4)
	require.Len(t, coef, 4)
	got := coef[2]
	assert.Equal(t, 2, got.Matchup)
	assert.Equal(t, model.VariantPooled, got.Variant)
	assert.InDelta(t, truth.BetaOff[0], got.BetaOff[0], 0.15)
	assert.InDelta(t, truth.BetaDef[1], got.BetaDef[1], 0.15)
	assert.InDelta(t, 0, got.BetaOff[4], 0.15)
	assert.InDelta(t, sigma, got.Sigma, 0.1)
	assert.Equal(t, coef[0].BetaOff, coef[3].BetaOff)
}

func TestFit_EmptyRows(t *testing.T) {
	_, err := Fit(context.Background(), nil, Layout{Variant: model.VariantPooled}, label, Options{})
	var dme *model.DataMissingError
	assert.ErrorAs(t, err, &dme)
}

func TestFit_Cancelled(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	rows := randomRows(rng, 50, []int{0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fit(ctx, rows, NewLayout(model.VariantPooled, rows), label, Options{Chains: 2, Warmup: 10, Samples: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFit_ShapesAndSigmaScale(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	rows := randomRows(rng, 60, []int{0, 5})
	layout := NewLayout(model.VariantHierarchical, rows)
	p, err := Fit(context.Background(), rows, layout, label, Options{Chains: 3, Warmup: 50, Samples: 40, Seed: 1})
	require.NoError(t, err)
	require.Len(t, p.Draws, 3)
	for _, c := range p.Draws {
		require.Len(t, c, 40)
		for _, d := range c {
			assert.Greater(t, d[layout.logSigma()], 0.0)
		}
	}
	assert.Equal(t, 120, p.TotalDraws())
	assert.Len(t, Summarize(p), layout.Dim())
	coef := Coefficients(p, Summarize(p), 36)
	require.Len(t, coef, 2)
	assert.Equal(t, 0, coef[0].Matchup)
	assert.Equal(t, 5, coef[1].Matchup)
}
