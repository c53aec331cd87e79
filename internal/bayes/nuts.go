package bayes

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// maxEnergyError marks a transition as divergent.
const maxEnergyError = 1000

// densityFunc returns log p(theta) and writes its gradient into grad.
type densityFunc func(theta, grad []float64) float64

// state is one point in phase space with its cached density and gradient.
type state struct {
	theta []float64
	r     []float64
	grad  []float64
	logp  float64
}

func (s *state) clone() *state {
	return &state{
		theta: append([]float64(nil), s.theta...),
		r:     append([]float64(nil), s.r...),
		grad:  append([]float64(nil), s.grad...),
		logp:  s.logp,
	}
}

// chain is a single NUTS chain with diagonal metric adaptation.
type chain struct {
	id       int
	density  densityFunc
	rng      *rand.Rand
	invMass  []float64
	eps      float64
	maxDepth int
	target   float64

	// dual averaging
	mu, hBar, logEpsBar float64
	adaptIter           int
}

func newChain(id int, density densityFunc, dim int, seed uint64, maxDepth int, target float64) *chain {
	c := &chain{
		id:       id,
		density:  density,
		rng:      rand.New(rand.NewPCG(seed, uint64(id)+1)),
		invMass:  make([]float64, dim),
		maxDepth: maxDepth,
		target:   target,
	}
	for i := range c.invMass {
		c.invMass[i] = 1
	}
	return c
}

func (c *chain) kinetic(r []float64) float64 {
	var k float64
	for i, v := range r {
		k += v * v * c.invMass[i]
	}
	return 0.5 * k
}

func (c *chain) joint(s *state) float64 { return s.logp - c.kinetic(s.r) }

func (c *chain) sampleMomentum(r []float64) {
	for i := range r {
		r[i] = c.rng.NormFloat64() / math.Sqrt(c.invMass[i])
	}
}

// leapfrog advances s in place by one step of size eps.
func (c *chain) leapfrog(s *state, eps float64) {
	floats.AddScaled(s.r, eps/2, s.grad)
	for i := range s.theta {
		s.theta[i] += eps * c.invMass[i] * s.r[i]
	}
	s.logp = c.density(s.theta, s.grad)
	floats.AddScaled(s.r, eps/2, s.grad)
}

// noUTurn reports whether the trajectory between minus and plus is still
// expanding at both ends.
func (c *chain) noUTurn(minus, plus *state) bool {
	var dm, dp float64
	for i := range minus.theta {
		d := plus.theta[i] - minus.theta[i]
		dm += d * c.invMass[i] * minus.r[i]
		dp += d * c.invMass[i] * plus.r[i]
	}
	return dm >= 0 && dp >= 0
}

// subtree carries the result of buildTree.
type subtree struct {
	minus, plus *state
	proposal    *state
	n           int
	ok          bool
	divergent   bool
	alpha       float64
	nAlpha      int
}

func (c *chain) buildTree(s *state, logU float64, dir, depth int, eps, joint0 float64) subtree {
	if depth == 0 {
		next := s.clone()
		c.leapfrog(next, float64(dir)*eps)
		h := c.joint(next)
		if math.IsNaN(h) {
			h = math.Inf(-1)
		}
		t := subtree{minus: next, plus: next, proposal: next, nAlpha: 1}
		if logU <= h {
			t.n = 1
		}
		t.ok = logU < h+maxEnergyError
		t.divergent = !t.ok
		t.alpha = math.Min(1, math.Exp(h-joint0))
		return t
	}

	t := c.buildTree(s, logU, dir, depth-1, eps, joint0)
	if !t.ok {
		return t
	}
	var u subtree
	if dir == -1 {
		u = c.buildTree(t.minus, logU, dir, depth-1, eps, joint0)
		t.minus = u.minus
	} else {
		u = c.buildTree(t.plus, logU, dir, depth-1, eps, joint0)
		t.plus = u.plus
	}
	if u.n > 0 && c.rng.Float64()*float64(t.n+u.n) < float64(u.n) {
		t.proposal = u.proposal
	}
	t.alpha += u.alpha
	t.nAlpha += u.nAlpha
	t.divergent = t.divergent || u.divergent
	t.ok = u.ok && c.noUTurn(t.minus, t.plus)
	t.n += u.n
	return t
}

// transition runs one NUTS iteration from cur. It returns the next state, the
// mean acceptance statistic, and whether the trajectory diverged.
func (c *chain) transition(cur *state) (*state, float64, bool) {
	start := cur.clone()
	c.sampleMomentum(start.r)
	joint0 := c.joint(start)
	logU := joint0 + math.Log(c.rng.Float64())

	minus, plus := start, start
	next := cur
	n := 1
	var alpha float64
	var nAlpha int
	divergent := false

	for depth := 0; depth < c.maxDepth; depth++ {
		dir := 1
		if c.rng.IntN(2) == 0 {
			dir = -1
		}
		var t subtree
		if dir == -1 {
			t = c.buildTree(minus, logU, dir, depth, c.eps, joint0)
			minus = t.minus
		} else {
			t = c.buildTree(plus, logU, dir, depth, c.eps, joint0)
			plus = t.plus
		}
		alpha += t.alpha
		nAlpha += t.nAlpha
		divergent = divergent || t.divergent
		if t.ok && c.rng.Float64()*float64(n) < float64(t.n) {
			next = t.proposal
		}
		n += t.n
		if !t.ok || !c.noUTurn(minus, plus) {
			break
		}
	}
	// Drop the momentum so the returned state is position-only.
	out := next.clone()
	for i := range out.r {
		out.r[i] = 0
	}
	return out, alpha / float64(nAlpha), divergent
}

// findReasonableStepSize doubles or halves eps until a single leapfrog step
// crosses an acceptance probability of one half.
func (c *chain) findReasonableStepSize(cur *state) {
	c.eps = 1
	logRatio := func() float64 {
		s := cur.clone()
		c.sampleMomentum(s.r)
		h0 := c.joint(s)
		c.leapfrog(s, c.eps)
		d := c.joint(s) - h0
		if math.IsNaN(d) {
			return math.Inf(-1)
		}
		return d
	}
	d := logRatio()
	a := -1.0
	if d > math.Log(0.5) {
		a = 1
	}
	for i := 0; i < 100 && a*d > -a*math.Log(2); i++ {
		c.eps *= math.Pow(2, a)
		d = logRatio()
	}
}

func (c *chain) restartAdaptation() {
	c.mu = math.Log(10 * c.eps)
	c.hBar = 0
	c.logEpsBar = 0
	c.adaptIter = 0
}

const (
	daGamma = 0.05
	daT0    = 10
	daKappa = 0.75
)

func (c *chain) adaptStepSize(acceptStat float64) {
	c.adaptIter++
	m := float64(c.adaptIter)
	eta := 1 / (m + daT0)
	c.hBar = (1-eta)*c.hBar + eta*(c.target-acceptStat)
	logEps := c.mu - math.Sqrt(m)/daGamma*c.hBar
	w := math.Pow(m, -daKappa)
	c.logEpsBar = w*logEps + (1-w)*c.logEpsBar
	c.eps = math.Exp(logEps)
}

func (c *chain) finishAdaptation() {
	if c.adaptIter > 0 {
		c.eps = math.Exp(c.logEpsBar)
	}
}

// metricWindows returns the first warmup iteration that feeds the metric
// estimate and the iterations after which the diagonal metric is
// re-estimated. Windows double in size between a fast initial buffer and a
// fast terminal buffer.
func metricWindows(warmup int) (start int, ends []int) {
	if warmup < 20 {
		return 0, nil
	}
	initBuf, termBuf, base := 75, 50, 25
	if initBuf+termBuf+base > warmup {
		initBuf = int(0.15 * float64(warmup))
		termBuf = int(0.1 * float64(warmup))
		base = warmup - initBuf - termBuf
	}
	last := warmup - termBuf
	for from, size := initBuf, base; from < last; size *= 2 {
		end := from + size
		if end+2*size > last {
			end = last
		}
		ends = append(ends, end)
		from = end
	}
	return initBuf, ends
}

// regularizedVariance shrinks a window variance estimate toward 1e-3.
func regularizedVariance(samples []float64) float64 {
	n := float64(len(samples))
	v := stat.Variance(samples, nil)
	return n/(n+5)*v + 1e-3*5/(n+5)
}

// chainResult is the output of one chain run.
type chainResult struct {
	draws       [][]float64
	divergences int
	stepSize    float64
}

// run performs warmup then collects samples. onIter is called after every
// iteration with the 1-based iteration number and whether it diverged after
// warmup.
func (c *chain) run(ctx context.Context, init []float64, warmup, samples int, onIter func(iter int, divergent bool)) (*chainResult, error) {
	dim := len(init)
	cur := &state{theta: append([]float64(nil), init...), r: make([]float64, dim), grad: make([]float64, dim)}
	cur.logp = c.density(cur.theta, cur.grad)

	c.findReasonableStepSize(cur)
	c.restartAdaptation()

	windowStart, windows := metricWindows(warmup)
	window := make([][]float64, dim)

	res := &chainResult{draws: make([][]float64, 0, samples)}
	for iter := 0; iter < warmup+samples; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, accept, divergent := c.transition(cur)
		cur = next

		if iter < warmup {
			c.adaptStepSize(accept)
			if len(windows) > 0 && iter >= windowStart {
				for i, v := range cur.theta {
					window[i] = append(window[i], v)
				}
				if iter+1 == windows[0] {
					for i := range c.invMass {
						c.invMass[i] = regularizedVariance(window[i])
						window[i] = window[i][:0]
					}
					windows = windows[1:]
					c.findReasonableStepSize(cur)
					c.restartAdaptation()
				}
			}
			if iter+1 == warmup {
				c.finishAdaptation()
			}
		} else {
			if divergent {
				res.divergences++
			}
			res.draws = append(res.draws, append([]float64(nil), cur.theta...))
		}
		if onIter != nil {
			onIter(iter+1, divergent && iter >= warmup)
		}
	}
	if warmup == 0 {
		c.finishAdaptation()
	}
	res.stepSize = c.eps
	return res, nil
}
