package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
)

// summaryCmd is the cobra command for displaying a high-level database overview.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a high-level overview of the database",
	Long: `Display row counts for every pipeline table, the archetype populations,
supercluster usage per side (trained vs hash fallback) and the latest accepted
model run.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func runSummary(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return printSummary(db)
}

func printSummary(db *storage.DB) error {
	counts, err := db.Overview()
	if err != nil {
		return fmt.Errorf("get overview: %w", err)
	}
	fmt.Fprintf(os.Stdout, "\n=== Database Summary ===\n\n")
	fmt.Fprintf(os.Stdout, "  Database : %s\n\n", cfg.DB)
	report.PrintOverview(os.Stdout, counts)

	archetypes, err := db.ArchetypeCounts()
	if err != nil {
		return fmt.Errorf("count archetypes: %w", err)
	}
	if len(archetypes) > 0 {
		fmt.Fprintf(os.Stdout, "\n--- Archetypes ---\n\n")
		report.PrintArchetypes(os.Stdout, archetypes)
	}

	superclusters, err := db.LoadSuperclusters()
	if err != nil {
		return fmt.Errorf("load superclusters: %w", err)
	}
	if len(superclusters) > 0 {
		fmt.Fprintf(os.Stdout, "\n--- Superclusters ---\n\n")
		report.PrintSuperclusters(os.Stdout, superclusters)
	}

	latest, err := db.LatestAcceptedRun()
	if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}
	fmt.Fprintf(os.Stdout, "\n--- Latest accepted run ---\n")
	if latest == nil {
		fmt.Fprintln(os.Stdout, "\n  none")
		return nil
	}
	report.PrintRunHeader(os.Stdout, *latest)
	return nil
}
