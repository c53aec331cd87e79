package cmd

import (
	"fmt"
	"sort"

	"github.com/pable/lineup-matchups/internal/archetype"
	"github.com/pable/lineup-matchups/internal/bayes"
	"github.com/pable/lineup-matchups/internal/cluster"
	"github.com/pable/lineup-matchups/internal/config"
	"github.com/pable/lineup-matchups/internal/gate"
	"github.com/pable/lineup-matchups/internal/matchup"
	"github.com/pable/lineup-matchups/internal/metrics"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/storage"
	"github.com/pable/lineup-matchups/internal/supercluster"
)

// Artifact names in the artifacts table.
const (
	artifactArchetypes    = "archetype_model"
	artifactSuperclusters = "supercluster_model"
)

// superclusterArtifact is the persisted form of a fitted supercluster
// Assigner.
type superclusterArtifact struct {
	K              int                     `json:"k"`
	MinPossessions int                     `json:"min_possessions"`
	Offense        *supercluster.SideModel `json:"offense"`
	Defense        *supercluster.SideModel `json:"defense"`
}

func (a superclusterArtifact) space() matchup.Space {
	return matchup.Space{KOff: a.K, KDef: a.K}
}

// loadAssigner rebuilds the Assigner saved by fit-superclusters, seeded with
// every stored assignment so ids never change between runs.
func loadAssigner(db *storage.DB) (*supercluster.Assigner, superclusterArtifact, error) {
	var art superclusterArtifact
	ok, err := db.LoadArtifact(artifactSuperclusters, &art)
	if err != nil {
		return nil, art, err
	}
	if !ok {
		return nil, art, fmt.Errorf("no supercluster model stored; run 'matchups fit-superclusters' first: %w",
			&model.DataMissingError{Table: "artifacts:" + artifactSuperclusters, Have: 0, Need: 1})
	}
	stored, err := db.LoadSuperclusters()
	if err != nil {
		return nil, art, fmt.Errorf("load superclusters: %w", err)
	}
	a := supercluster.NewAssigner(art.K, art.MinPossessions, art.Offense, art.Defense)
	a.Preload(stored)
	return a, art, nil
}

func archetypeOptions(c config.Archetype) archetype.Options {
	names := make([]string, 0, len(c.References))
	for n := range c.References {
		names = append(names, n)
	}
	sort.Strings(names)
	refs := make([]cluster.Reference, len(names))
	for i, n := range names {
		refs[i] = cluster.Reference{Name: n, Profile: c.References[n]}
	}
	return archetype.Options{
		K:                 c.K,
		Seed:              c.Seed,
		Restarts:          c.Restarts,
		MaxIter:           c.MaxIter,
		MinRowsPerFeature: c.MinRowsPerFeature,
		References:        refs,
	}
}

func superclusterOptions(c config.Supercluster) supercluster.Options {
	return supercluster.Options{
		K:                 c.K,
		Seed:              c.Seed,
		Restarts:          c.Restarts,
		MinPossessions:    c.MinPossessions,
		MinRowsPerFeature: c.MinRowsPerFeature,
		AllowUntrained:    c.AllowUntrained,
	}
}

func samplerOptions(c *config.Config, m *metrics.Metrics) bayes.Options {
	return bayes.Options{
		Chains:       c.Sampler.Chains,
		Warmup:       c.Sampler.Warmup,
		Samples:      c.Sampler.Samples,
		TargetAccept: c.Sampler.TargetAccept,
		MaxTreeDepth: c.Sampler.MaxTreeDepth,
		Seed:         c.Sampler.Seed,
		Prior: bayes.Prior{
			InterceptMean: c.Prior.InterceptMean,
			InterceptSD:   c.Prior.InterceptSD,
			SlopeSD:       c.Prior.SlopeSD,
			SigmaSD:       c.Prior.SigmaSD,
		},
		Metrics: m,
	}
}

func gateConfig(c config.Gate) gate.Config {
	return gate.Config{
		MinMatchups:     c.MinMatchups,
		MinVariance:     c.MinVariance,
		MaxZeroFraction: c.MaxZeroFraction,
		MinObsPerParam:  c.MinObsPerParam,
		MaxRHat:         c.MaxRHat,
		MinESS:          c.MinESS,
		MaxDivergences:  c.MaxDivergences,
	}
}
