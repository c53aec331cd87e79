// Package main is the entry point for the matchups CLI tool, which clusters
// players into archetypes, groups lineups into style superclusters and fits a
// matchup-indexed Bayesian model of possession outcomes.
package main

import "github.com/pable/lineup-matchups/cmd"

func main() {
	cmd.Execute()
}
