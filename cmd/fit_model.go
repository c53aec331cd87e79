package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/bayes"
	"github.com/pable/lineup-matchups/internal/gate"
	"github.com/pable/lineup-matchups/internal/matchup"
	"github.com/pable/lineup-matchups/internal/metrics"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
)

var (
	fitChains    int
	fitWarmup    int
	fitSamples   int
	fitSeed      uint64
	fitSubsample int
	fitVariant   string
	fitAllChecks bool
)

var fitModelCmd = &cobra.Command{
	Use:   "fit-model",
	Short: "Fit the matchup regression and publish coefficients if it converges",
	Long: `Sample the posterior of

  outcome ~ Normal(beta_0[m] + z_off . beta_off[m] - z_def . beta_def[m], sigma)

with NUTS over the stored training rows, one coefficient group per observed
matchup m (hierarchical) or a single shared group (pooled). The pooled variant
is chosen automatically when rows per parameter fall below
gate.min_obs_per_param, unless --variant forces one.

A pre-flight gate checks data adequacy before sampling. After sampling every
parameter must have R-hat < gate.max_rhat and ESS > gate.min_ess, and
divergences must not exceed gate.max_divergences. Only then are coefficients
published and the run marked accepted; otherwise the run is rejected and its
draws kept for inspection. Gate failures exit with status 2.`,
	Args: cobra.NoArgs,
	RunE: runFitModel,
}

func init() {
	f := fitModelCmd.Flags()
	f.IntVar(&fitChains, "chains", 0, "number of chains (overrides sampler.chains)")
	f.IntVar(&fitWarmup, "warmup", 0, "warmup iterations per chain (overrides sampler.warmup)")
	f.IntVar(&fitSamples, "samples", 0, "post-warmup draws per chain (overrides sampler.samples)")
	f.Uint64Var(&fitSeed, "seed", 0, "sampler seed (overrides sampler.seed)")
	f.IntVar(&fitSubsample, "subsample", 0, "fit on a seeded uniform subsample of this many rows")
	f.StringVar(&fitVariant, "variant", "", "force hierarchical or pooled")
	f.BoolVar(&fitAllChecks, "all-checks", false, "list passing gate checks individually")
}

func applyFitFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("chains") {
		cfg.Sampler.Chains = fitChains
	}
	if f.Changed("warmup") {
		cfg.Sampler.Warmup = fitWarmup
	}
	if f.Changed("samples") {
		cfg.Sampler.Samples = fitSamples
	}
	if f.Changed("seed") {
		cfg.Sampler.Seed = fitSeed
	}
	if f.Changed("subsample") {
		cfg.Sampler.Subsample = fitSubsample
	}
	if f.Changed("variant") {
		cfg.Sampler.Variant = fitVariant
	}
	return cfg.Validate()
}

func runFitModel(cmd *cobra.Command, args []string) error {
	if err := applyFitFlags(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()

	m, stopMetrics, err := serveMetrics(cfg.MetricsAddr)
	if err != nil {
		return err
	}
	defer stopMetrics()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.LoadTrainingRows()
	if err != nil {
		return fmt.Errorf("load training rows: %w", err)
	}
	if len(rows) == 0 {
		return &model.DataMissingError{Table: "training_rows", Have: 0, Need: 1}
	}
	space, err := trainedSpace(db)
	if err != nil {
		return err
	}
	rows = bayes.Subsample(rows, cfg.Sampler.Subsample, cfg.Sampler.Seed)
	m.Rows(len(rows))

	variant := bayes.SelectVariant(rows, cfg.Gate.MinObsPerParam, model.Variant(cfg.Sampler.Variant))
	layout := bayes.NewLayout(variant, rows)
	gcfg := gateConfig(cfg.Gate)

	pre := gate.CheckPreflight(rows, layout.Dim(), gcfg)
	pre.Record(m)
	if err := pre.Err(); err != nil {
		report.PrintGateReport(os.Stdout, pre, fitAllChecks)
		return err
	}
	if fitAllChecks {
		report.PrintGateReport(os.Stdout, pre, true)
	}

	run := &model.ModelRun{
		Variant: variant,
		Rows:    len(rows),
		Chains:  cfg.Sampler.Chains,
		Warmup:  cfg.Sampler.Warmup,
		Samples: cfg.Sampler.Samples,
		Seed:    int64(cfg.Sampler.Seed),
	}
	if err := db.CreateRun(run); err != nil {
		return err
	}
	slog.Info("model run started", "run", run.RunID, "variant", variant, "params", layout.Dim())

	post, err := bayes.Fit(ctx, rows, layout, space.Label, samplerOptions(cfg, m))
	if err != nil {
		status := model.RunRejected
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = model.RunCancelled
		}
		if ferr := db.FinishRun(run.RunID, status, 0, err.Error()); ferr != nil {
			slog.Error("could not finish run", "run", run.RunID, "err", ferr)
		}
		return fmt.Errorf("fit model: %w", err)
	}

	summary := bayes.Summarize(post)
	if err := db.SaveDraws(run.RunID, post.Draws); err != nil {
		return fmt.Errorf("store draws: %w", err)
	}
	if err := db.SaveDiagnostics(run.RunID, summary); err != nil {
		return fmt.Errorf("store diagnostics: %w", err)
	}

	divergences := post.TotalDivergences()
	posthoc := gate.CheckPosthoc(summary, divergences, gcfg)
	posthoc.Record(m)
	report.PrintGateReport(os.Stdout, posthoc, fitAllChecks)

	if gerr := posthoc.Err(); gerr != nil {
		if err := db.FinishRun(run.RunID, model.RunRejected, divergences, failedNote(posthoc)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\nRun %s rejected; draws kept. Inspect with 'matchups show %s'.\n", run.RunID, run.RunID[:8])
		return gerr
	}

	coefs := bayes.Coefficients(post, summary, space.Size())
	if err := db.AcceptRun(run.RunID, divergences, coefs); err != nil {
		return err
	}
	run.Status = model.RunAccepted
	run.Divergences = divergences
	report.PrintRunHeader(os.Stdout, *run)
	report.PrintCoefficients(os.Stdout, coefs, space)
	return nil
}

// trainedSpace returns the matchup space the training rows were built in.
func trainedSpace(db *storage.DB) (matchup.Space, error) {
	var art superclusterArtifact
	ok, err := db.LoadArtifact(artifactSuperclusters, &art)
	if err != nil {
		return matchup.Space{}, err
	}
	if !ok {
		return matchup.Space{KOff: cfg.Supercluster.K, KDef: cfg.Supercluster.K}, nil
	}
	return art.space(), nil
}

// failedNote summarises the first few failing checks for the run record.
func failedNote(r *gate.Report) string {
	failed := r.Failed()
	parts := make([]string, 0, 5)
	for i, c := range failed {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("... %d more", len(failed)-i))
			break
		}
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "; ")
}

// serveMetrics registers the pipeline metrics and, when addr is set, serves
// them on /metrics until the returned stop function is called. Without addr
// the metrics are nil and every update is a no-op.
func serveMetrics(addr string) (*metrics.Metrics, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "err", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "err", err)
		}
	}
	return m, stop, nil
}
