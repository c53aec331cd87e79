// Package bayes fits the matchup-indexed regression
//
//	outcome_i ~ Normal(mu_i, sigma)
//	mu_i = beta_0[m] + z_off_i·beta_off[m] - z_def_i·beta_def[m]
//
// by Hamiltonian Monte Carlo (NUTS) with several independent chains.
package bayes

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pable/lineup-matchups/internal/model"
)

// perGroup is beta_0 plus 8 offensive and 8 defensive slopes.
const perGroup = 1 + 2*model.NumArchetypes

// Prior holds the weakly-informative prior scales.
type Prior struct {
	InterceptMean float64
	InterceptSD   float64
	SlopeSD       float64
	SigmaSD       float64
}

// DefaultPrior centres the intercept near one point per possession.
func DefaultPrior() Prior {
	return Prior{InterceptMean: 1, InterceptSD: 2, SlopeSD: 1, SigmaSD: 2}
}

// Layout maps model parameters to positions in the flat parameter vector.
// Group g owns [g*17, g*17+17); log sigma is last.
type Layout struct {
	Variant model.Variant
	// Matchups lists the dense matchup index of each group. A pooled layout
	// has one group and a nil slice.
	Matchups []int
}

// Groups is the number of coefficient groups.
func (l Layout) Groups() int {
	if l.Variant == model.VariantPooled {
		return 1
	}
	return len(l.Matchups)
}

// Dim is the length of the parameter vector.
func (l Layout) Dim() int { return l.Groups()*perGroup + 1 }

func (l Layout) beta0(g int) int      { return g * perGroup }
func (l Layout) betaOff(g, a int) int { return g*perGroup + 1 + a }
func (l Layout) betaDef(g, a int) int { return g*perGroup + 1 + model.NumArchetypes + a }
func (l Layout) logSigma() int        { return l.Groups() * perGroup }

// Names returns a readable name per parameter; label renders a matchup index.
func (l Layout) Names(label func(int) string) []string {
	names := make([]string, l.Dim())
	for g := 0; g < l.Groups(); g++ {
		suffix := ""
		if l.Variant != model.VariantPooled {
			suffix = label(l.Matchups[g])
		}
		names[l.beta0(g)] = bracket("beta_0", suffix, -1)
		for a := 0; a < model.NumArchetypes; a++ {
			names[l.betaOff(g, a)] = bracket("beta_off", suffix, a)
			names[l.betaDef(g, a)] = bracket("beta_def", suffix, a)
		}
	}
	names[l.logSigma()] = "sigma"
	return names
}

func bracket(base, group string, a int) string {
	switch {
	case group == "" && a < 0:
		return base
	case group == "":
		return fmt.Sprintf("%s[%d]", base, a)
	case a < 0:
		return fmt.Sprintf("%s[%s]", base, group)
	default:
		return fmt.Sprintf("%s[%s,%d]", base, group, a)
	}
}

// NewLayout builds the layout for a variant from the matchups present in rows.
func NewLayout(v model.Variant, rows []model.TrainingRow) Layout {
	if v == model.VariantPooled {
		return Layout{Variant: v}
	}
	return Layout{Variant: v, Matchups: DistinctMatchups(rows)}
}

// DistinctMatchups returns the sorted matchup indices present in rows.
func DistinctMatchups(rows []model.TrainingRow) []int {
	seen := make(map[int]bool)
	for _, r := range rows {
		seen[r.Matchup] = true
	}
	out := make([]int, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// ParamCount is the number of parameters a variant would fit on rows.
func ParamCount(v model.Variant, rows []model.TrainingRow) int {
	return NewLayout(v, rows).Dim()
}

// SelectVariant returns the hierarchical variant unless its
// observations-per-parameter ratio is below minObsPerParam, in which case the
// pooled variant is used. A non-empty force overrides the choice.
func SelectVariant(rows []model.TrainingRow, minObsPerParam float64, force model.Variant) model.Variant {
	if force != "" {
		return force
	}
	ratio := float64(len(rows)) / float64(ParamCount(model.VariantHierarchical, rows))
	if ratio < minObsPerParam {
		slog.Warn("observation density too low for per-matchup coefficients; using pooled variant",
			"rows", len(rows), "obs_per_param", ratio, "min", minObsPerParam)
		return model.VariantPooled
	}
	return model.VariantHierarchical
}

// Subsample draws n rows uniformly without replacement using a seeded PCG
// stream. It returns rows unchanged when n <= 0 or n >= len(rows).
func Subsample(rows []model.TrainingRow, n int, seed uint64) []model.TrainingRow {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	idx := rng.Perm(len(rows))[:n]
	sort.Ints(idx)
	out := make([]model.TrainingRow, n)
	for i, j := range idx {
		out[i] = rows[j]
	}
	slog.Warn("sampling on a subsample of the training rows", "rows", len(rows), "subsample", n, "seed", seed)
	return out
}

// Predict returns mu for one row under fixed coefficients.
func Predict(c model.Coefficients, r model.TrainingRow) float64 {
	mu := c.Beta0
	for a := 0; a < model.NumArchetypes; a++ {
		mu += r.ZOff[a]*c.BetaOff[a] - r.ZDef[a]*c.BetaDef[a]
	}
	return mu
}

// posterior evaluates the log density and its gradient in the unconstrained
// space (log sigma with Jacobian).
type posterior struct {
	layout Layout
	prior  Prior
	y      []float64
	group  []int
	zOff   [][model.NumArchetypes]float64
	zDef   [][model.NumArchetypes]float64

	intercept distuv.Normal
	slope     distuv.Normal
	sigma     distuv.Normal
}

func newPosterior(layout Layout, prior Prior, rows []model.TrainingRow) *posterior {
	p := &posterior{
		layout:    layout,
		prior:     prior,
		y:         make([]float64, len(rows)),
		group:     make([]int, len(rows)),
		zOff:      make([][model.NumArchetypes]float64, len(rows)),
		zDef:      make([][model.NumArchetypes]float64, len(rows)),
		intercept: distuv.Normal{Mu: prior.InterceptMean, Sigma: prior.InterceptSD},
		slope:     distuv.Normal{Mu: 0, Sigma: prior.SlopeSD},
		sigma:     distuv.Normal{Mu: 0, Sigma: prior.SigmaSD},
	}
	groupOf := make(map[int]int, len(layout.Matchups))
	for g, m := range layout.Matchups {
		groupOf[m] = g
	}
	for i, r := range rows {
		p.y[i] = float64(r.Outcome)
		if layout.Variant != model.VariantPooled {
			p.group[i] = groupOf[r.Matchup]
		}
		p.zOff[i] = r.ZOff
		p.zDef[i] = r.ZDef
	}
	return p
}

// logDensity returns log p(theta | data) up to a constant and writes the
// gradient into grad.
func (p *posterior) logDensity(theta, grad []float64) float64 {
	l := p.layout
	for i := range grad {
		grad[i] = 0
	}

	s := theta[l.logSigma()]
	sig := math.Exp(s)
	inv2 := 1 / (sig * sig)

	var sse float64
	for i, y := range p.y {
		g := p.group[i]
		mu := theta[l.beta0(g)]
		for a := 0; a < model.NumArchetypes; a++ {
			mu += p.zOff[i][a]*theta[l.betaOff(g, a)] - p.zDef[i][a]*theta[l.betaDef(g, a)]
		}
		r := y - mu
		sse += r * r
		w := r * inv2
		grad[l.beta0(g)] += w
		for a := 0; a < model.NumArchetypes; a++ {
			grad[l.betaOff(g, a)] += w * p.zOff[i][a]
			grad[l.betaDef(g, a)] -= w * p.zDef[i][a]
		}
	}
	n := float64(len(p.y))
	lp := -n*s - 0.5*sse*inv2
	grad[l.logSigma()] = -n + sse*inv2

	for g := 0; g < l.Groups(); g++ {
		b := theta[l.beta0(g)]
		lp += p.intercept.LogProb(b)
		grad[l.beta0(g)] -= (b - p.prior.InterceptMean) / (p.prior.InterceptSD * p.prior.InterceptSD)
		for a := 0; a < model.NumArchetypes; a++ {
			for _, j := range [2]int{l.betaOff(g, a), l.betaDef(g, a)} {
				lp += p.slope.LogProb(theta[j])
				grad[j] -= theta[j] / (p.prior.SlopeSD * p.prior.SlopeSD)
			}
		}
	}

	// Half-normal on sigma plus log|d sigma / d s| = s.
	lp += math.Ln2 + p.sigma.LogProb(sig) + s
	grad[l.logSigma()] += 1 - sig*sig/(p.prior.SigmaSD*p.prior.SigmaSD)
	return lp
}

// initialPoint places the chain near the prior centre with small jitter.
func (p *posterior) initialPoint(rng *rand.Rand) []float64 {
	l := p.layout
	theta := make([]float64, l.Dim())
	for i := range theta {
		theta[i] = rng.Float64()*0.4 - 0.2
	}
	for g := 0; g < l.Groups(); g++ {
		theta[l.beta0(g)] += p.prior.InterceptMean
	}
	return theta
}
