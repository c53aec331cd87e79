package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List model runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return listRuns(db)
}

func listRuns(db *storage.DB) error {
	runs, err := db.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "No model runs yet. Run 'matchups fit-model' to add one.")
		return nil
	}
	report.PrintRuns(os.Stdout, runs)
	return nil
}
