package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pable/lineup-matchups/internal/report"
	"github.com/pable/lineup-matchups/internal/storage"
)

var (
	cPrompt   = color.New(color.FgCyan, color.Bold)
	cMuted    = color.New(color.Faint)
	cError    = color.New(color.FgRed, color.Bold)
	cWarn     = color.New(color.FgYellow)
	cCmd      = color.New(color.FgYellow, color.Bold)
	cGreeting = color.New(color.Bold)
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive session against the pipeline database",
	Long:  "Open a persistent session against the database to inspect runs and tables. Type 'help' for available commands.",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func runShell(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cGreeting.Println("matchups shell")
	cMuted.Println("type 'help' or 'exit'")
	fmt.Println()
	return shellLoop(db, cmd.InOrStdin())
}

func shellLoop(db *storage.DB, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		cPrompt.Print("matchups")
		cMuted.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		name, args := tokens[0], tokens[1:]

		var err error
		switch name {
		case "exit", "quit":
			return nil
		case "help":
			shellHelp()
		case "runs":
			err = listRuns(db)
		case "show":
			if len(args) == 0 {
				cError.Fprintln(os.Stderr, "usage: show <run-id-prefix> [params]")
				continue
			}
			params := 20
			if len(args) > 1 {
				if params, err = strconv.Atoi(args[1]); err != nil {
					cError.Fprintf(os.Stderr, "invalid params count %q\n", args[1])
					continue
				}
			}
			err = showRun(db, args[0], params)
		case "summary":
			err = printSummary(db)
		case "archetypes":
			err = shellArchetypes(db)
		case "sql":
			if len(args) == 0 {
				cError.Fprintln(os.Stderr, "usage: sql <query>")
				continue
			}
			err = runQuery(db, strings.TrimSpace(strings.TrimPrefix(line, name)))
		default:
			cWarn.Fprintf(os.Stderr, "unknown command %q, type 'help'\n", name)
		}
		if err != nil {
			cError.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func shellHelp() {
	fmt.Println()
	type entry struct{ cmd, desc string }
	rows := []entry{
		{"runs", "list model runs, newest first"},
		{"show <run-id-prefix> [params]", "show a run's gate result and diagnostics"},
		{"summary", "table row counts and latest accepted run"},
		{"archetypes", "players per archetype"},
		{"sql <query>", "run a raw SQL query"},
		{"help", "show this message"},
		{"exit / quit", "close the session"},
	}
	for _, r := range rows {
		fmt.Print("  ")
		cCmd.Printf("%-34s", r.cmd)
		fmt.Println(r.desc)
	}
	fmt.Println()
}

func shellArchetypes(db *storage.DB) error {
	counts, err := db.ArchetypeCounts()
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		cMuted.Println("No archetype assignments stored yet.")
		return nil
	}
	report.PrintArchetypes(os.Stdout, counts)
	return nil
}
