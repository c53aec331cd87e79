package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/storage"
	"github.com/pable/lineup-matchups/internal/tables"
)

var (
	exportOut string
	exportRun string
)

// exporter reads one table as a header and string rows.
type exporter func(db *storage.DB) ([]string, [][]string, error)

var exporters = map[string]exporter{
	"archetypes":    exportArchetypes,
	"superclusters": exportSuperclusters,
	"training-rows": exportTrainingRows,
	"coefficients":  exportCoefficients,
	"diagnostics":   exportDiagnostics,
}

var exportCmd = &cobra.Command{
	Use:   "export <table>",
	Short: "Export a pipeline table as CSV, XLSX or JSON",
	Long: `Write one pipeline table to --out. The format follows the file extension:
.csv, .xlsx or .json. Without --out, JSON is written to stdout.

Tables:
  archetypes      player-season archetype assignments
  superclusters   lineup key supercluster assignments per side
  training-rows   matchup-indexed training rows with Z vectors
  coefficients    published coefficients of a run (latest accepted by default)
  diagnostics     per-parameter mean, sd, R-hat and ESS of a run

Example:
  matchups export coefficients --out coefs.xlsx
  matchups export diagnostics --run 3f2a --out diag.csv`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: exportTables(),
	RunE:      runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file path (default: JSON to stdout)")
	exportCmd.Flags().StringVar(&exportRun, "run", "", "run id prefix for coefficients/diagnostics (default: latest accepted run)")
}

func exportTables() []string {
	out := make([]string, 0, len(exporters))
	for name := range exporters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func runExport(cmd *cobra.Command, args []string) error {
	read, ok := exporters[args[0]]
	if !ok {
		return fmt.Errorf("unknown table %q (want one of %s)", args[0], strings.Join(exportTables(), ", "))
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	header, rows, err := read(db)
	if err != nil {
		return err
	}

	if exportOut != "" && !strings.EqualFold(filepath.Ext(exportOut), ".json") {
		if err := tables.WriteRows(exportOut, header, rows); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d rows to %s\n", len(rows), exportOut)
		return nil
	}

	data, err := json.MarshalIndent(records(header, rows), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if exportOut == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(exportOut, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", exportOut)
	return nil
}

// records turns rows into JSON objects keyed by header. Cells that parse as
// finite numbers are emitted as numbers.
func records(header []string, rows [][]string) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		rec := make(map[string]any, len(header))
		for j, col := range header {
			if j >= len(row) {
				break
			}
			if v, err := strconv.ParseFloat(row[j], 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
				rec[col] = v
			} else {
				rec[col] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// exportRunID resolves --run, or the latest accepted run when it is empty.
func exportRunID(db *storage.DB) (string, error) {
	var run *model.ModelRun
	var err error
	if exportRun == "" {
		run, err = db.LatestAcceptedRun()
	} else {
		run, err = db.GetRunByPrefix(exportRun)
	}
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("no matching model run (run prefix %q)", exportRun)
	}
	return run.RunID, nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func exportArchetypes(db *storage.DB) ([]string, [][]string, error) {
	got, err := db.LoadArchetypes()
	if err != nil {
		return nil, nil, err
	}
	header := []string{"player_id", "season", "archetype_id", "archetype_name", "distance"}
	rows := make([][]string, len(got))
	for i, a := range got {
		rows[i] = []string{a.PlayerID, a.Season, strconv.Itoa(a.ArchetypeID), a.Name, ftoa(a.Distance)}
	}
	return header, rows, nil
}

func exportSuperclusters(db *storage.DB) ([]string, [][]string, error) {
	got, err := db.LoadSuperclusters()
	if err != nil {
		return nil, nil, err
	}
	header := []string{"lineup_key", "side", "supercluster_id", "source", "possessions"}
	rows := make([][]string, len(got))
	for i, a := range got {
		rows[i] = []string{string(a.Key), a.Side.String(), strconv.Itoa(a.SuperclusterID), string(a.Source), strconv.Itoa(a.Possessions)}
	}
	return header, rows, nil
}

func exportTrainingRows(db *storage.DB) ([]string, [][]string, error) {
	got, err := db.LoadTrainingRows()
	if err != nil {
		return nil, nil, err
	}
	header := append([]string{"game_id", "event_num", "outcome", "matchup"}, storage.ZColumns()...)
	rows := make([][]string, len(got))
	for i, r := range got {
		row := []string{r.GameID, strconv.Itoa(r.EventNum), strconv.Itoa(r.Outcome), strconv.Itoa(r.Matchup)}
		for _, z := range r.ZOff {
			row = append(row, ftoa(z))
		}
		for _, z := range r.ZDef {
			row = append(row, ftoa(z))
		}
		rows[i] = row
	}
	return header, rows, nil
}

func exportCoefficients(db *storage.DB) ([]string, [][]string, error) {
	runID, err := exportRunID(db)
	if err != nil {
		return nil, nil, err
	}
	got, err := db.GetCoefficients(runID)
	if err != nil {
		return nil, nil, err
	}
	space, err := trainedSpace(db)
	if err != nil {
		return nil, nil, err
	}
	header := []string{"run_id", "matchup", "label", "variant", "beta_0"}
	for a := 0; a < model.NumArchetypes; a++ {
		header = append(header, fmt.Sprintf("beta_off_%d", a))
	}
	for a := 0; a < model.NumArchetypes; a++ {
		header = append(header, fmt.Sprintf("beta_def_%d", a))
	}
	header = append(header, "sigma")

	rows := make([][]string, len(got))
	for i, c := range got {
		row := []string{runID, strconv.Itoa(c.Matchup), space.Label(c.Matchup), string(c.Variant), ftoa(c.Beta0)}
		for _, b := range c.BetaOff {
			row = append(row, ftoa(b))
		}
		for _, b := range c.BetaDef {
			row = append(row, ftoa(b))
		}
		rows[i] = append(row, ftoa(c.Sigma))
	}
	return header, rows, nil
}

func exportDiagnostics(db *storage.DB) ([]string, [][]string, error) {
	runID, err := exportRunID(db)
	if err != nil {
		return nil, nil, err
	}
	got, err := db.LoadDiagnostics(runID)
	if err != nil {
		return nil, nil, err
	}
	header := []string{"run_id", "param", "mean", "sd", "rhat", "ess"}
	rows := make([][]string, len(got))
	for i, s := range got {
		rows[i] = []string{runID, s.Name, ftoa(s.Mean), ftoa(s.SD), ftoa(s.RHat), ftoa(s.ESS)}
	}
	return header, rows, nil
}
