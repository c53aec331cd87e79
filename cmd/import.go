package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/tables"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import possession logs or skill ratings",
}

var importPossessionsCmd = &cobra.Command{
	Use:   "possessions <file>...",
	Short: "Import possession logs (CSV or XLSX)",
	Long: `Columns: game_id, event_num, season, home_1..home_5, away_1..away_5,
offense (home|away), points. Optional: duration, shot_zone (rim|mid|three),
assisted, turnover, fta_trip, oreb.

Seasons present in the input replace previously stored possessions of the
same season.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImportPossessions,
}

var importSkillsCmd = &cobra.Command{
	Use:   "skills <file>...",
	Short: "Import per-season player skill ratings (CSV or XLSX)",
	Long:  `Columns: player_id, season, off_rating, def_rating.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImportSkills,
}

func init() {
	importCmd.AddCommand(importPossessionsCmd)
	importCmd.AddCommand(importSkillsCmd)
}

func runImportPossessions(cmd *cobra.Command, args []string) error {
	var all []model.Possession
	for _, path := range args {
		got, err := tables.LoadPossessions(path)
		if err != nil {
			return fmt.Errorf("load possessions: %w", err)
		}
		slog.Info("possession log loaded", "file", path, "rows", len(got))
		all = append(all, got...)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ReplacePossessions(all); err != nil {
		return fmt.Errorf("store possessions: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Imported %d possessions\n", len(all))
	return nil
}

func runImportSkills(cmd *cobra.Command, args []string) error {
	var all []model.SkillRating
	for _, path := range args {
		got, err := tables.LoadSkills(path)
		if err != nil {
			return fmt.Errorf("load skills: %w", err)
		}
		slog.Info("skill table loaded", "file", path, "rows", len(got))
		all = append(all, got...)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ReplaceSkills(all); err != nil {
		return fmt.Errorf("store skills: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Imported %d skill ratings\n", len(all))
	return nil
}
