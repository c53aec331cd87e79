// Package config defines the pipeline configuration and how it is loaded.
//
// Values are layered low to high: defaults from New, an optional YAML file,
// then MATCHUPS_* environment variables. A double underscore in a variable
// name separates nesting levels, so MATCHUPS_SAMPLER__CHAINS sets
// sampler.chains.
package config

import (
	"fmt"
	"strings"

	"github.com/pable/lineup-matchups/internal/model"
)

// Config contains process configuration.
type Config struct {
	// DB is the SQLite database path.
	DB string `koanf:"db"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsAddr, when set, serves Prometheus metrics during fit-model.
	MetricsAddr string `koanf:"metrics_addr"`

	Archetype    Archetype    `koanf:"archetype"`
	Supercluster Supercluster `koanf:"supercluster"`
	Matchup      Matchup      `koanf:"matchup"`
	Sampler      Sampler      `koanf:"sampler"`
	Prior        Prior        `koanf:"prior"`
	Gate         Gate         `koanf:"gate"`
}

// Archetype configures player clustering.
type Archetype struct {
	K                 int    `koanf:"k"`
	Seed              uint64 `koanf:"seed"`
	Restarts          int    `koanf:"restarts"`
	MaxIter           int    `koanf:"max_iter"`
	MinRowsPerFeature int    `koanf:"min_rows_per_feature"`

	// References maps an archetype name to its raw 48-value feature profile.
	References map[string][]float64 `koanf:"references"`
}

// Supercluster configures lineup clustering.
type Supercluster struct {
	K                 int    `koanf:"k"`
	Seed              uint64 `koanf:"seed"`
	Restarts          int    `koanf:"restarts"`
	MinPossessions    int    `koanf:"min_possessions"`
	MinRowsPerFeature int    `koanf:"min_rows_per_feature"`
	AllowUntrained    bool   `koanf:"allow_untrained"`
}

// Matchup configures training-row construction.
type Matchup struct {
	MaxDropRate float64 `koanf:"max_drop_rate"`
	NoFallback  bool    `koanf:"no_fallback"`
}

// Sampler configures MCMC.
type Sampler struct {
	Chains       int     `koanf:"chains"`
	Warmup       int     `koanf:"warmup"`
	Samples      int     `koanf:"samples"`
	TargetAccept float64 `koanf:"target_accept"`
	MaxTreeDepth int     `koanf:"max_tree_depth"`
	Seed         uint64  `koanf:"seed"`
	// Subsample, when positive, fits on a seeded uniform subsample of this
	// many rows.
	Subsample int `koanf:"subsample"`
	// Variant forces "hierarchical" or "pooled"; empty selects automatically.
	Variant string `koanf:"variant"`
}

// Prior configures the regression priors.
type Prior struct {
	InterceptMean float64 `koanf:"intercept_mean"`
	InterceptSD   float64 `koanf:"intercept_sd"`
	SlopeSD       float64 `koanf:"slope_sd"`
	SigmaSD       float64 `koanf:"sigma_sd"`
}

// Gate configures the pre-flight and post-hoc thresholds.
type Gate struct {
	MinMatchups     int     `koanf:"min_matchups"`
	MinVariance     float64 `koanf:"min_variance"`
	MaxZeroFraction float64 `koanf:"max_zero_fraction"`
	MinObsPerParam  float64 `koanf:"min_obs_per_param"`
	MaxRHat         float64 `koanf:"max_rhat"`
	MinESS          float64 `koanf:"min_ess"`
	MaxDivergences  int     `koanf:"max_divergences"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		DB:       "matchups.db",
		LogLevel: "info",
		Archetype: Archetype{
			K:                 model.NumArchetypes,
			Seed:              42,
			Restarts:          10,
			MaxIter:           300,
			MinRowsPerFeature: 2,
		},
		Supercluster: Supercluster{
			K:                 model.NumSuperclusters,
			Seed:              42,
			Restarts:          10,
			MinPossessions:    10,
			MinRowsPerFeature: 2,
		},
		Matchup: Matchup{MaxDropRate: 0.25},
		Sampler: Sampler{
			Chains:       4,
			Warmup:       1000,
			Samples:      1000,
			TargetAccept: 0.8,
			MaxTreeDepth: 10,
			Seed:         42,
		},
		Prior: Prior{InterceptMean: 1, InterceptSD: 2, SlopeSD: 1, SigmaSD: 2},
		Gate: Gate{
			MinMatchups:     2,
			MinVariance:     0.01,
			MaxZeroFraction: 0.99,
			MinObsPerParam:  5,
			MaxRHat:         1.01,
			MinESS:          100,
			MaxDivergences:  0,
		},
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log_level %q", c.LogLevel)
	}
	if c.DB == "" {
		return invalid("db must not be empty")
	}
	if c.Archetype.K < 2 || c.Supercluster.K < 2 {
		return invalid("k must be at least 2 (archetype %d, supercluster %d)", c.Archetype.K, c.Supercluster.K)
	}
	if c.Archetype.K != model.NumArchetypes {
		return invalid("archetype.k must be %d, the Z-vector width", model.NumArchetypes)
	}
	if c.Supercluster.MinPossessions < 1 {
		return invalid("supercluster.min_possessions %d", c.Supercluster.MinPossessions)
	}
	for name, profile := range c.Archetype.References {
		if len(profile) != model.NumFeatures {
			return invalid("archetype reference %q has %d values, want %d", name, len(profile), model.NumFeatures)
		}
	}
	if c.Matchup.MaxDropRate <= 0 || c.Matchup.MaxDropRate > 1 {
		return invalid("matchup.max_drop_rate %v not in (0,1]", c.Matchup.MaxDropRate)
	}
	s := c.Sampler
	if s.Chains < 2 {
		return invalid("sampler.chains %d: R-hat needs at least 2 chains", s.Chains)
	}
	if s.Warmup < 0 || s.Samples < 4 {
		return invalid("sampler.warmup %d / samples %d", s.Warmup, s.Samples)
	}
	if s.TargetAccept <= 0 || s.TargetAccept >= 1 {
		return invalid("sampler.target_accept %v not in (0,1)", s.TargetAccept)
	}
	if s.MaxTreeDepth < 1 {
		return invalid("sampler.max_tree_depth %d", s.MaxTreeDepth)
	}
	switch model.Variant(s.Variant) {
	case "", model.VariantHierarchical, model.VariantPooled:
	default:
		return invalid("sampler.variant %q", s.Variant)
	}
	p := c.Prior
	if p.InterceptSD <= 0 || p.SlopeSD <= 0 || p.SigmaSD <= 0 {
		return invalid("prior scales must be positive")
	}
	if c.Gate.MinMatchups < 1 {
		return invalid("gate.min_matchups %d must be at least 1", c.Gate.MinMatchups)
	}
	if c.Gate.MinObsPerParam <= 0 || c.Gate.MaxRHat <= 1 || c.Gate.MinESS <= 0 {
		return invalid("gate thresholds")
	}
	return nil
}
