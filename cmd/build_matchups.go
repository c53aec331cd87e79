package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/aggregator"
	"github.com/pable/lineup-matchups/internal/matchup"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/report"
)

var (
	noFallback  bool
	maxDropRate float64
)

var buildMatchupsCmd = &cobra.Command{
	Use:   "build-matchups",
	Short: "Turn possessions into matchup-indexed training rows",
	Long: `For every stored possession, resolve both lineups to archetype keys and skill
ratings, look up the offensive lineup's offense supercluster and the defensive
lineup's defense supercluster, and emit one training row with the matchup
index and the skill-weighted Z vectors of both sides.

Possessions with a player lacking an archetype or a skill rating are excluded
and counted by reason. If the excluded share exceeds matchup.max_drop_rate the
build fails and nothing is stored.

Lineup keys first seen here are placed by the hash fallback and that placement
is stored permanently. --no-fallback excludes possessions that depend on a
fallback placement instead.`,
	Args: cobra.NoArgs,
	RunE: runBuildMatchups,
}

func init() {
	buildMatchupsCmd.Flags().BoolVar(&noFallback, "no-fallback", false, "exclude possessions with a hash-fallback supercluster (overrides matchup.no_fallback)")
	buildMatchupsCmd.Flags().Float64Var(&maxDropRate, "max-drop-rate", 0, "maximum excluded share of possessions (overrides matchup.max_drop_rate)")
}

func runBuildMatchups(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("no-fallback") {
		cfg.Matchup.NoFallback = noFallback
	}
	if cmd.Flags().Changed("max-drop-rate") {
		cfg.Matchup.MaxDropRate = maxDropRate
	}

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

	resolver, possessions, err := loadInputs(db)
	if err != nil {
		return err
	}
	assigner, art, err := loadAssigner(db)
	if err != nil {
		return err
	}

	b := &matchup.Builder{
		Resolver:    resolver,
		Assigner:    assigner,
		Aggregates:  aggregator.LineupAggregates(possessions, resolver.KeyOnly),
		Space:       art.space(),
		MaxDropRate: cfg.Matchup.MaxDropRate,
		NoFallback:  cfg.Matchup.NoFallback,
		Metrics:     m,
	}
	res, err := b.Build(cmd.Context(), possessions)
	var lie *model.LineupIncompleteError
	if errors.As(err, &lie) {
		report.PrintBuild(os.Stdout, res)
		return err
	}
	if err != nil {
		return fmt.Errorf("build matchups: %w", err)
	}

	m.Rows(len(res.Rows))
	if err := db.ReplaceTrainingRows(res.Rows); err != nil {
		return fmt.Errorf("store training rows: %w", err)
	}
	if err := db.ReplaceSuperclusters(assigner.Assignments()); err != nil {
		return fmt.Errorf("store superclusters: %w", err)
	}
	report.PrintBuild(os.Stdout, res)
	return nil
}
