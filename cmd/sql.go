package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the pipeline database",
	Long: `Run an arbitrary SQL query against the pipeline database and print results as a table.

Schema overview:
  player_features(player_id, season, feature 0-47, value NULL when missing)
  skill_ratings(player_id, season, off_rating, def_rating)
  possessions(game_id, event_num, season, home_1..home_5, away_1..away_5,
    home_offense, points, duration, shot_zone, assisted, turnover, fta_trip, oreb)
  archetype_assignments(player_id, season, archetype_id, archetype_name, distance)
  lineup_superclusters(lineup_key, side, supercluster_id, source, possessions)
  training_rows(game_id, event_num, outcome, matchup, z_off_0..z_off_7, z_def_0..z_def_7)
  model_runs(run_id, created_at, variant, status, rows_used, chains, warmup, samples,
    seed, divergences, note)
  coefficients(run_id, matchup, variant, beta_0, beta_off JSON, beta_def JSON, sigma)
  param_diagnostics(run_id, param, mean, sd, rhat, ess)
  posterior_draws(run_id, chain, draw, vals JSON)
  artifacts(name, body JSON, updated_at)

Matchup index = off_supercluster * K + def_supercluster.

Example:
  matchups sql "SELECT source, side, COUNT(*) FROM lineup_superclusters GROUP BY 1, 2"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return runQuery(db, query)
}

func runQuery(db *storage.DB, query string) error {
	cols, rows, err := db.QueryRaw(query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}
	report.PrintQuery(os.Stdout, cols, rows)
	return nil
}
