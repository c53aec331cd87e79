package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/gate"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
)

var (
	showParams int
	showCoefs  bool
)

var showCmd = &cobra.Command{
	Use:   "show <run-id-prefix>",
	Short: "Show a model run: gate result, worst-converged parameters and coefficients",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().IntVar(&showParams, "params", 20, "number of parameters to list, worst R-hat first (0 = all)")
	showCmd.Flags().BoolVar(&showCoefs, "coefficients", true, "print published coefficients of an accepted run")
}

func runShow(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return showRun(db, args[0], showParams)
}

// showRun prints the run matching prefix with its gate result, the params
// worst-converged parameters and, for accepted runs, the coefficients.
func showRun(db *storage.DB, prefix string, params int) error {
	run, err := db.GetRunByPrefix(prefix)
	if err != nil {
		return fmt.Errorf("query run: %w", err)
	}
	if run == nil {
		fmt.Fprintf(os.Stderr, "No model run found with id prefix %q\n", prefix)
		return nil
	}
	report.PrintRunHeader(os.Stdout, *run)

	summary, err := db.LoadDiagnostics(run.RunID)
	if err != nil {
		return fmt.Errorf("load diagnostics: %w", err)
	}
	if len(summary) > 0 {
		report.PrintGateReport(os.Stdout, gate.CheckPosthoc(summary, run.Divergences, gateConfig(cfg.Gate)), false)
		fmt.Fprintln(os.Stdout)
		report.PrintDiagnostics(os.Stdout, summary, params)
	}

	if !showCoefs || run.Status != model.RunAccepted {
		return nil
	}
	coefs, err := db.GetCoefficients(run.RunID)
	if err != nil {
		return fmt.Errorf("get coefficients: %w", err)
	}
	space, err := trainedSpace(db)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	report.PrintCoefficients(os.Stdout, coefs, space)
	return nil
}
