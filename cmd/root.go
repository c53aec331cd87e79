package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/config"
	"github.com/pable/lineup-matchups/internal/gate"
	"github.com/pable/lineup-matchups/internal/storage"
)

var (
	dbPath      string
	configPath  string
	logLevel    string
	metricsAddr string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "matchups",
	Short: "Lineup matchup model tool",
	Long: `Cluster players into archetypes, group lineups into style superclusters and
fit a matchup-indexed Bayesian model of possession outcomes.

Each stage persists its output to the SQLite database, so the pipeline can be
re-run from any step:

  matchups build-features features.csv
  matchups import skills skills.csv
  matchups import possessions possessions.csv
  matchups fit-archetypes
  matchups fit-superclusters
  matchups build-matchups
  matchups fit-model`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context. Gate failures exit with status 2, every other error with 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var dae *gate.DataAdequacyError
	var ce *gate.ConvergenceError
	if errors.As(err, &dae) || errors.As(err, &ce) {
		return 2
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to SQLite database (default from config, matchups.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $MATCHUPS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address during build-matchups and fit-model, e.g. :9090")

	rootCmd.AddCommand(buildFeaturesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(fitArchetypesCmd)
	rootCmd.AddCommand(fitSuperclustersCmd)
	rootCmd.AddCommand(buildMatchupsCmd)
	rootCmd.AddCommand(fitModelCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(dropCmd)
}

// loadConfig layers the config file and environment, applies explicit
// global flags on top and installs the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DB = dbPath
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = metricsAddr
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      parseLevel(c.LogLevel),
			TimeFormat: "15:04:05",
		}),
	))
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func openDB() (*storage.DB, error) {
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return db, nil
}
