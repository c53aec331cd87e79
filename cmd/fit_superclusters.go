package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/aggregator"
	"github.com/pable/lineup-matchups/internal/lineup"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
	"github.com/pable/lineup-matchups/internal/supercluster"
)

var fitSuperclustersCmd = &cobra.Command{
	Use:   "fit-superclusters",
	Short: "Group lineup keys into offensive and defensive style superclusters",
	Long: `Aggregate every stored possession by lineup key (the sorted archetype ids of
the five players) on each side of the ball, then fit one K-means model per
side on the pooled aggregates.

Keys with fewer than supercluster.min_possessions possessions are placed by a
deterministic hash of the key instead and tagged hash-fallback. Replaces the
lineup supercluster table and the stored model.`,
	Args: cobra.NoArgs,
	RunE: runFitSuperclusters,
}

// loadInputs returns the tables shared by fit-superclusters and build-matchups.
func loadInputs(db *storage.DB) (*lineup.Resolver, []model.Possession, error) {
	archetypes, err := db.LoadArchetypes()
	if err != nil {
		return nil, nil, fmt.Errorf("load archetypes: %w", err)
	}
	if len(archetypes) == 0 {
		return nil, nil, &model.DataMissingError{Table: "archetype_assignments", Have: 0, Need: 1}
	}
	skills, err := db.LoadSkills()
	if err != nil {
		return nil, nil, fmt.Errorf("load skills: %w", err)
	}
	possessions, err := db.LoadPossessions()
	if err != nil {
		return nil, nil, fmt.Errorf("load possessions: %w", err)
	}
	if len(possessions) == 0 {
		return nil, nil, &model.DataMissingError{Table: "possessions", Have: 0, Need: 1}
	}
	return lineup.NewResolver(archetypes, skills), possessions, nil
}

func runFitSuperclusters(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	resolver, possessions, err := loadInputs(db)
	if err != nil {
		return err
	}
	aggs := aggregator.LineupAggregates(possessions, resolver.KeyOnly)

	opts := superclusterOptions(cfg.Supercluster)
	assigner, err := supercluster.Fit(cmd.Context(), aggs, opts)
	if err != nil {
		return fmt.Errorf("fit superclusters: %w", err)
	}

	assignments := assigner.Assignments()
	if err := db.ReplaceSuperclusters(assignments); err != nil {
		return fmt.Errorf("store superclusters: %w", err)
	}
	art := superclusterArtifact{
		K:              opts.K,
		MinPossessions: opts.MinPossessions,
		Offense:        assigner.Model(model.SideOffense),
		Defense:        assigner.Model(model.SideDefense),
	}
	if err := db.SaveArtifact(artifactSuperclusters, art); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "\nPossessions: %d  |  Skipped (unassigned player): %d  |  Lineup keys: %d\n\n",
		len(possessions), aggs.Skipped, len(assignments))
	report.PrintSuperclusters(os.Stdout, assignments)
	return nil
}
