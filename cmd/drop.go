package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/report"
)

var (
	dropForce   bool
	dropDerived bool
)

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the pipeline database or its derived tables",
	Long: `Without flags, report what would be removed. With --force, delete the SQLite
database file and its WAL side files; every import, model and run is lost.

With --derived, clear only what the fit stages computed (archetypes,
superclusters, training rows, stored models and model runs) and keep the
imported features, skill ratings and possessions, so the pipeline can be
re-run from fit-archetypes.`,
	Args: cobra.NoArgs,
	RunE: runDrop,
}

func init() {
	dropCmd.Flags().BoolVarP(&dropForce, "force", "f", false, "confirm the deletion")
	dropCmd.Flags().BoolVar(&dropDerived, "derived", false, "clear derived tables only, keep imported inputs")
}

func runDrop(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.DB); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stdout, "Database %s does not exist, nothing to drop.\n", cfg.DB)
		return nil
	}

	if !dropForce {
		what := "the database file " + cfg.DB
		if dropDerived {
			what = "every derived table in " + cfg.DB
		}
		fmt.Fprintf(os.Stderr, "This will permanently delete %s.\nRe-run with --force to confirm.\n", what)
		return nil
	}

	if dropDerived {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		cleared, err := db.ClearDerived()
		if err != nil {
			return fmt.Errorf("clear derived tables: %w", err)
		}
		fmt.Fprintf(os.Stdout, "\nCleared derived tables in %s:\n\n", cfg.DB)
		report.PrintOverview(os.Stdout, cleared)
		return nil
	}

	for _, path := range []string{cfg.DB, cfg.DB + "-wal", cfg.DB + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	fmt.Fprintf(os.Stdout, "Deleted: %s\n", cfg.DB)
	return nil
}
