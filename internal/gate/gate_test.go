package gate

import (
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/lineup-matchups/internal/metrics"
	"github.com/pable/lineup-matchups/internal/model"
)

// healthyRows spreads rows over two matchups with every Z column varying.
func healthyRows(n int) []model.TrainingRow {
	rows := make([]model.TrainingRow, n)
	for i := range rows {
		rows[i].Matchup = i % 2
		for a := 0; a < model.NumArchetypes; a++ {
			rows[i].ZOff[a] = float64((i+a)%5) * 0.5
			rows[i].ZDef[a] = float64((i*3+a)%7) * 0.5
		}
	}
	return rows
}

func failedNames(r *Report) map[string]bool {
	out := make(map[string]bool)
	for _, c := range r.Failed() {
		out[c.Name+"/"+c.Subject] = true
	}
	return out
}

func TestPreflight_Passes(t *testing.T) {
	r := CheckPreflight(healthyRows(200), 18, DefaultConfig())
	assert.True(t, r.Passed(), "%v", r.Failed())
	assert.NoError(t, r.Err())
	// rows + matchups + 16×(variance, zero fraction) + obs/param
	assert.Len(t, r.Checks, 1+1+32+1)
}

func TestPreflight_SingleMatchupFailsByDefault(t *testing.T) {
	rows := healthyRows(200)
	for i := range rows {
		rows[i].Matchup = 7
	}
	r := CheckPreflight(rows, 18, DefaultConfig())
	failed := failedNames(r)
	assert.True(t, failed["distinct_matchups/"])
	assert.Len(t, r.Failed(), 1)
	assert.Contains(t, r.Err().Error(), "1 of 35 checks failed")
}

func TestPreflight_ReportsEveryFailure(t *testing.T) {
	rows := healthyRows(50)
	for i := range rows {
		rows[i].ZOff[3] = 0     // all zero: low variance and zero fraction
		rows[i].ZDef[6] = 1.234 // constant non-zero: low variance only
	}
	cfg := DefaultConfig()
	cfg.MinMatchups = 3
	r := CheckPreflight(rows, 18, cfg)

	failed := failedNames(r)
	assert.True(t, failed["variance/z_off_3"])
	assert.True(t, failed["zero_fraction/z_off_3"])
	assert.True(t, failed["variance/z_def_6"])
	assert.False(t, failed["zero_fraction/z_def_6"])
	assert.True(t, failed["distinct_matchups/"])
	// 50 rows / 18 params is under 5.
	assert.True(t, failed["obs_per_param/"])
	assert.Len(t, r.Failed(), 5)

	var dae *DataAdequacyError
	require.True(t, errors.As(r.Err(), &dae))
	assert.Same(t, r, dae.Report)
	assert.Contains(t, dae.Error(), "5 of 35 checks failed")
}

func TestPreflight_Empty(t *testing.T) {
	r := CheckPreflight(nil, 18, DefaultConfig())
	failed := failedNames(r)
	assert.True(t, failed["rows/"])
	assert.True(t, failed["obs_per_param/"])
	assert.True(t, failed["variance/z_off_0"])
}

func summary(rhat, ess float64) []model.ParamSummary {
	return []model.ParamSummary{
		{Name: "beta_0", RHat: 1.001, ESS: 900},
		{Name: "beta_off[3]", RHat: rhat, ESS: ess},
		{Name: "sigma", RHat: 1.0, ESS: 1500},
	}
}

func TestPosthoc_Monotonicity(t *testing.T) {
	cfg := DefaultConfig()

	pass := CheckPosthoc(summary(1.005, 400), 0, cfg)
	assert.NoError(t, pass.Err())

	cases := []struct {
		name  string
		rhat  float64
		ess   float64
		div   int
		check string
	}{
		{"rhat at threshold", 1.01, 400, 0, "rhat/beta_off[3]"},
		{"rhat above", 1.2, 400, 0, "rhat/beta_off[3]"},
		{"rhat NaN", math.NaN(), 400, 0, "rhat/beta_off[3]"},
		{"ess at threshold", 1.0, 100, 0, "ess/beta_off[3]"},
		{"ess below", 1.0, 12, 0, "ess/beta_off[3]"},
		{"divergences", 1.0, 400, 1, "divergences/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := CheckPosthoc(summary(tc.rhat, tc.ess), tc.div, cfg)
			var ce *ConvergenceError
			require.True(t, errors.As(r.Err(), &ce))
			assert.True(t, failedNames(r)[tc.check])
			assert.Len(t, r.Failed(), 1)
		})
	}
}

func TestReport_Record(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	r := CheckPosthoc(summary(1.5, 10), 2, DefaultConfig())
	r.Record(m)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateFailures.WithLabelValues(Posthoc, "rhat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateFailures.WithLabelValues(Posthoc, "ess")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateFailures.WithLabelValues(Posthoc, "divergences")))
}

func TestCheckString(t *testing.T) {
	c := Check{Name: "rhat", Subject: "sigma", Measured: 1.02, Threshold: 1.01, Op: OpLT}
	assert.Equal(t, "rhat[sigma] = 1.02 (want < 1.01) FAIL", c.String())
}
