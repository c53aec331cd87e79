package bayes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/pable/lineup-matchups/internal/metrics"
	"github.com/pable/lineup-matchups/internal/model"
)

// Options are the sampler knobs.
type Options struct {
	Chains       int
	Warmup       int
	Samples      int
	TargetAccept float64
	MaxTreeDepth int
	Seed         uint64
	Prior        Prior
	Metrics      *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Chains <= 0 {
		o.Chains = 4
	}
	if o.Warmup < 0 {
		o.Warmup = 0
	}
	if o.Samples <= 0 {
		o.Samples = 1000
	}
	if o.TargetAccept <= 0 || o.TargetAccept >= 1 {
		o.TargetAccept = 0.8
	}
	if o.MaxTreeDepth <= 0 {
		o.MaxTreeDepth = 10
	}
	if o.Prior == (Prior{}) {
		o.Prior = DefaultPrior()
	}
	return o
}

// Posterior holds the post-warmup draws of every chain. Sigma is stored on
// its natural scale.
type Posterior struct {
	Layout      Layout
	Names       []string
	Draws       [][][]float64 // [chain][draw][param]
	Divergences []int         // per chain
	StepSizes   []float64     // per chain, after adaptation
	Rows        int
}

// TotalDivergences sums divergent transitions across chains.
func (p *Posterior) TotalDivergences() int {
	n := 0
	for _, d := range p.Divergences {
		n += d
	}
	return n
}

// TotalDraws is chains × samples.
func (p *Posterior) TotalDraws() int {
	n := 0
	for _, c := range p.Draws {
		n += len(c)
	}
	return n
}

// Param returns the draws of parameter j split by chain.
func (p *Posterior) Param(j int) [][]float64 {
	out := make([][]float64, len(p.Draws))
	for c, draws := range p.Draws {
		out[c] = make([]float64, len(draws))
		for i, d := range draws {
			out[c][i] = d[j]
		}
	}
	return out
}

// Fit samples the posterior of the model described by layout on rows. Chains
// run concurrently; the first chain error or a cancelled ctx stops them all.
func Fit(ctx context.Context, rows []model.TrainingRow, layout Layout, label func(int) string, opts Options) (*Posterior, error) {
	if len(rows) == 0 {
		return nil, &model.DataMissingError{Table: "training_rows", Have: 0, Need: 1}
	}
	opts = opts.withDefaults()
	post := newPosterior(layout, opts.Prior, rows)
	dim := layout.Dim()

	out := &Posterior{
		Layout:      layout,
		Names:       layout.Names(label),
		Draws:       make([][][]float64, opts.Chains),
		Divergences: make([]int, opts.Chains),
		StepSizes:   make([]float64, opts.Chains),
		Rows:        len(rows),
	}
	slog.Info("sampling", "variant", layout.Variant, "params", dim, "rows", len(rows),
		"chains", opts.Chains, "warmup", opts.Warmup, "samples", opts.Samples)

	g, gctx := errgroup.WithContext(ctx)
	for ci := 0; ci < opts.Chains; ci++ {
		g.Go(func() error {
			c := newChain(ci, post.logDensity, dim, opts.Seed, opts.MaxTreeDepth, opts.TargetAccept)
			init := post.initialPoint(c.rng)
			name := strconv.Itoa(ci)
			total := opts.Warmup + opts.Samples
			res, err := c.run(gctx, init, opts.Warmup, opts.Samples, func(iter int, divergent bool) {
				opts.Metrics.Progress(name, iter)
				if divergent {
					opts.Metrics.Divergence(name)
				}
				if iter%500 == 0 || iter == total {
					slog.Debug("chain progress", "chain", ci, "iter", iter, "of", total)
				}
			})
			if err != nil {
				return fmt.Errorf("chain %d: %w", ci, err)
			}
			ls := layout.logSigma()
			for _, d := range res.draws {
				d[ls] = math.Exp(d[ls])
			}
			out.Draws[ci] = res.draws
			out.Divergences[ci] = res.divergences
			out.StepSizes[ci] = res.stepSize
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slog.Info("sampling finished", "divergences", out.TotalDivergences(), "step_sizes", out.StepSizes)
	return out, nil
}

// Summarize returns mean, sd, split R-hat and ESS for every parameter.
func Summarize(p *Posterior) []model.ParamSummary {
	out := make([]model.ParamSummary, len(p.Names))
	for j, name := range p.Names {
		chains := p.Param(j)
		var pooled []float64
		for _, c := range chains {
			pooled = append(pooled, c...)
		}
		mean, sd := stat.MeanStdDev(pooled, nil)
		out[j] = model.ParamSummary{
			Name: name,
			Mean: mean,
			SD:   sd,
			RHat: RHat(chains),
			ESS:  ESS(chains),
		}
	}
	return out
}

// Coefficients returns the posterior-mean coefficients of every matchup in
// the layout. A pooled fit yields one row per matchup in space, all sharing
// the same values.
func Coefficients(p *Posterior, summary []model.ParamSummary, spaceSize int) []model.Coefficients {
	l := p.Layout
	sigma := summary[l.logSigma()].Mean
	group := func(g int) model.Coefficients {
		c := model.Coefficients{Variant: l.Variant, Beta0: summary[l.beta0(g)].Mean, Sigma: sigma}
		for a := 0; a < model.NumArchetypes; a++ {
			c.BetaOff[a] = summary[l.betaOff(g, a)].Mean
			c.BetaDef[a] = summary[l.betaDef(g, a)].Mean
		}
		return c
	}
	if l.Variant == model.VariantPooled {
		shared := group(0)
		out := make([]model.Coefficients, spaceSize)
		for m := range out {
			out[m] = shared
			out[m].Matchup = m
		}
		return out
	}
	out := make([]model.Coefficients, len(l.Matchups))
	for g, m := range l.Matchups {
		out[g] = group(g)
		out[g].Matchup = m
	}
	return out
}
