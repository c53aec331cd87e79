// Package gate implements the checks that guard a model fit: a cheap
// pre-flight data-adequacy gate before sampling and a post-hoc convergence
// gate before coefficients are accepted. Each gate reports every check with
// its measured value, not a single boolean.
package gate

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/pable/lineup-matchups/internal/metrics"
	"github.com/pable/lineup-matchups/internal/model"
)

// Gate names.
const (
	Preflight = "preflight"
	Posthoc   = "posthoc"
)

// Config holds the gate thresholds.
type Config struct {
	MinMatchups     int
	MinVariance     float64
	MaxZeroFraction float64
	MinObsPerParam  float64
	MaxRHat         float64
	MinESS          float64
	MaxDivergences  int
}

// DefaultMinMatchups is the fewest distinct matchups a fit may see. With a
// single matchup the matchup index carries no information.
const DefaultMinMatchups = 2

// DefaultConfig returns the documented thresholds.
func DefaultConfig() Config {
	return Config{
		MinMatchups:     DefaultMinMatchups,
		MinVariance:     0.01,
		MaxZeroFraction: 0.99,
		MinObsPerParam:  5,
		MaxRHat:         1.01,
		MinESS:          100,
		MaxDivergences:  0,
	}
}

// Op is the comparison a check applies as "measured Op threshold".
type Op string

const (
	OpGE Op = ">="
	OpLE Op = "<="
	OpLT Op = "<"
	OpGT Op = ">"
)

func (o Op) holds(measured, threshold float64) bool {
	// NaN fails every comparison.
	switch o {
	case OpGE:
		return measured >= threshold
	case OpLE:
		return measured <= threshold
	case OpLT:
		return measured < threshold
	case OpGT:
		return measured > threshold
	}
	return false
}

// Check is one evaluated condition.
type Check struct {
	Name      string
	Subject   string
	Measured  float64
	Threshold float64
	Op        Op
	Passed    bool
}

func (c Check) String() string {
	status := "ok"
	if !c.Passed {
		status = "FAIL"
	}
	subject := ""
	if c.Subject != "" {
		subject = "[" + c.Subject + "]"
	}
	return fmt.Sprintf("%s%s = %.4g (want %s %.4g) %s", c.Name, subject, c.Measured, c.Op, c.Threshold, status)
}

// Report is the outcome of one gate.
type Report struct {
	Gate   string
	Checks []Check
}

func (r *Report) add(name, subject string, measured float64, op Op, threshold float64) {
	r.Checks = append(r.Checks, Check{
		Name: name, Subject: subject, Measured: measured,
		Threshold: threshold, Op: op, Passed: op.holds(measured, threshold),
	})
}

// Failed returns the failing checks.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool { return len(r.Failed()) == 0 }

// Record counts each failing check on m.
func (r *Report) Record(m *metrics.Metrics) {
	for _, c := range r.Failed() {
		m.GateFailed(r.Gate, c.Name)
	}
}

// Err returns a *DataAdequacyError or *ConvergenceError carrying the report,
// or nil when every check passed.
func (r *Report) Err() error {
	if r.Passed() {
		return nil
	}
	if r.Gate == Preflight {
		return &DataAdequacyError{Report: r}
	}
	return &ConvergenceError{Report: r}
}

func summarize(r *Report) string {
	failed := r.Failed()
	parts := make([]string, 0, len(failed))
	for i, c := range failed {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("and %d more", len(failed)-5))
			break
		}
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(r.Checks), strings.Join(parts, "; "))
}

// DataAdequacyError is a failed pre-flight gate.
type DataAdequacyError struct{ Report *Report }

func (e *DataAdequacyError) Error() string { return "data adequacy: " + summarize(e.Report) }

// ConvergenceError is a failed post-hoc gate.
type ConvergenceError struct{ Report *Report }

func (e *ConvergenceError) Error() string { return "convergence: " + summarize(e.Report) }

// ZColumnNames names the 16 regression inputs in row order.
func ZColumnNames() []string {
	names := make([]string, 0, 2*model.NumArchetypes)
	for a := 0; a < model.NumArchetypes; a++ {
		names = append(names, fmt.Sprintf("z_off_%d", a))
	}
	for a := 0; a < model.NumArchetypes; a++ {
		names = append(names, fmt.Sprintf("z_def_%d", a))
	}
	return names
}

// CheckPreflight runs the data-adequacy checks on the rows that will be
// sampled. params is the parameter count of the selected variant.
func CheckPreflight(rows []model.TrainingRow, params int, cfg Config) *Report {
	r := &Report{Gate: Preflight}
	r.add("rows", "", float64(len(rows)), OpGE, 1)

	distinct := make(map[int]bool)
	for _, row := range rows {
		distinct[row.Matchup] = true
	}
	r.add("distinct_matchups", "", float64(len(distinct)), OpGE, float64(cfg.MinMatchups))

	col := make([]float64, len(rows))
	for j, name := range ZColumnNames() {
		zeros := 0
		for i, row := range rows {
			if j < model.NumArchetypes {
				col[i] = row.ZOff[j]
			} else {
				col[i] = row.ZDef[j-model.NumArchetypes]
			}
			if col[i] == 0 {
				zeros++
			}
		}
		variance, zeroFrac := math.NaN(), math.NaN()
		if len(rows) > 1 {
			variance = stat.Variance(col, nil)
		}
		if len(rows) > 0 {
			zeroFrac = float64(zeros) / float64(len(rows))
		}
		r.add("variance", name, variance, OpGE, cfg.MinVariance)
		r.add("zero_fraction", name, zeroFrac, OpLE, cfg.MaxZeroFraction)
	}

	ratio := math.NaN()
	if params > 0 {
		ratio = float64(len(rows)) / float64(params)
	}
	r.add("obs_per_param", "", ratio, OpGE, cfg.MinObsPerParam)
	return r
}

// CheckPosthoc runs the convergence checks on a posterior summary.
func CheckPosthoc(summary []model.ParamSummary, divergences int, cfg Config) *Report {
	r := &Report{Gate: Posthoc}
	for _, s := range summary {
		r.add("rhat", s.Name, s.RHat, OpLT, cfg.MaxRHat)
		r.add("ess", s.Name, s.ESS, OpGT, cfg.MinESS)
	}
	r.add("divergences", "", float64(divergences), OpLE, float64(cfg.MaxDivergences))
	return r
}
