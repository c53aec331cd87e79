package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/archetype"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/report"
)

var fitArchetypesCmd = &cobra.Command{
	Use:   "fit-archetypes",
	Short: "Cluster all stored player-seasons into archetypes",
	Long: `Impute, robust-scale and K-means cluster the pooled feature table of every
stored season in one fit, so archetype ids mean the same thing in every season.
Replaces the archetype table and the stored scaler/centroid model.

Centroids are named after the nearest archetype.references profile in the
config; unmatched centroids are called "Archetype <id>".`,
	Args: cobra.NoArgs,
	RunE: runFitArchetypes,
}

func runFitArchetypes(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.LoadFeatures()
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	if len(rows) == 0 {
		return &model.DataMissingError{Table: "player_features", Have: 0, Need: cfg.Archetype.K}
	}

	res, err := archetype.Fit(cmd.Context(), rows, archetypeOptions(cfg.Archetype))
	if err != nil {
		return fmt.Errorf("fit archetypes: %w", err)
	}
	if err := db.ReplaceArchetypes(res.Assignments); err != nil {
		return fmt.Errorf("store archetypes: %w", err)
	}
	if err := db.SaveArtifact(artifactArchetypes, res.Model); err != nil {
		return err
	}

	counts, err := db.ArchetypeCounts()
	if err != nil {
		return fmt.Errorf("count archetypes: %w", err)
	}
	fmt.Fprintf(os.Stdout, "\nPlayer-seasons: %d  |  Seasons: %d  |  Imputed cells: %d  |  Inertia: %.2f\n\n",
		len(rows), len(res.Seasons), res.Imputed.Total(), res.Model.Clusters.Inertia)
	report.PrintArchetypes(os.Stdout, counts)
	return nil
}
