package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/features"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/tables"
)

var buildFeaturesCmd = &cobra.Command{
	Use:   "build-features <file>...",
	Short: "Load player-season feature tables into the database",
	Long: `Read one or more feature tables (CSV or XLSX with columns player_id, season,
f0..f47) and store them. Seasons present in the input replace any previously
stored rows of the same season; other seasons are kept.

Missing cells ("", NA, null) are stored as missing. They are imputed with the
pooled column mean when archetypes are fitted; the counts printed here show
how many cells that will affect.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuildFeatures,
}

func runBuildFeatures(cmd *cobra.Command, args []string) error {
	var rows []model.PlayerSeasonFeatures
	seen := make(map[[2]string]string)
	for _, path := range args {
		got, err := tables.LoadFeatures(path)
		if err != nil {
			return fmt.Errorf("load features: %w", err)
		}
		for _, r := range got {
			k := [2]string{r.PlayerID, r.Season}
			if prev, dup := seen[k]; dup {
				return fmt.Errorf("player %s season %s appears in both %s and %s", r.PlayerID, r.Season, prev, path)
			}
			seen[k] = path
		}
		slog.Info("feature table loaded", "file", path, "rows", len(got))
		rows = append(rows, got...)
	}

	// Impute a copy only to report coverage; raw values are stored.
	im, err := features.Impute(features.Matrix(rows))
	if err != nil {
		return fmt.Errorf("impute: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ReplaceFeatures(rows); err != nil {
		return fmt.Errorf("store features: %w", err)
	}
	report.PrintImputation(os.Stdout, len(rows), im)
	return nil
}
