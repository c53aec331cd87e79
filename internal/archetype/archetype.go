// Package archetype clusters player-season feature vectors into play-style
// archetypes.
//
// Fit must be called once on the pooled multi-season table. Clustering each
// season separately yields label permutations that make archetype ids
// incomparable across seasons.
package archetype

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pable/lineup-matchups/internal/cluster"
	"github.com/pable/lineup-matchups/internal/features"
	"github.com/pable/lineup-matchups/internal/model"
)

// Options controls Fit.
type Options struct {
	K                 int
	Seed              uint64
	Restarts          int
	MaxIter           int
	MinRowsPerFeature int
	// References are named profiles in raw feature space used to name
	// centroids. They are scaled with the fitted scaler before matching.
	References []cluster.Reference
}

// Model is the persisted output of Fit.
type Model struct {
	Fill     []float64        `json:"fill"`
	Scaler   *features.Scaler `json:"scaler"`
	Clusters *cluster.Model   `json:"clusters"`
	Names    []string         `json:"names"`
}

// Result bundles a fitted model with the assignments of its training rows.
type Result struct {
	Model       *Model
	Assignments []model.ArchetypeAssignment
	Imputed     features.Imputation
	Seasons     map[string]int
}

// Fit imputes, scales and clusters the pooled table. Every input row receives
// exactly one archetype id in [0, K).
func Fit(ctx context.Context, pooled []model.PlayerSeasonFeatures, opts Options) (*Result, error) {
	if opts.K <= 0 {
		opts.K = model.NumArchetypes
	}
	rows := features.Matrix(pooled)
	im, err := features.Impute(rows)
	if err != nil {
		return nil, fmt.Errorf("impute: %w", err)
	}
	scaler, err := features.FitRobust(rows, features.FitOptions{
		MinRowsPerFeature: opts.MinRowsPerFeature,
		Table:             "player_features",
	})
	if err != nil {
		return nil, err
	}
	scaled, err := scaler.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	km, err := cluster.Fit(scaled, cluster.Options{
		K:        opts.K,
		Seed:     opts.Seed,
		Restarts: opts.Restarts,
		MaxIter:  opts.MaxIter,
	})
	if err != nil {
		return nil, err
	}

	refs := make([]cluster.Reference, 0, len(opts.References))
	for _, r := range opts.References {
		p, err := scaler.TransformRow(r.Profile)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", r.Name, err)
		}
		refs = append(refs, cluster.Reference{Name: r.Name, Profile: p})
	}
	names, err := cluster.MatchReference(km.Centroids, refs)
	if err != nil {
		return nil, err
	}

	m := &Model{Fill: im.Fill, Scaler: scaler, Clusters: km, Names: names}
	res := &Result{Model: m, Imputed: im, Seasons: make(map[string]int)}
	res.Assignments = make([]model.ArchetypeAssignment, len(pooled))
	for i, r := range pooled {
		id, d := km.Predict(scaled[i])
		res.Assignments[i] = model.ArchetypeAssignment{
			PlayerID: r.PlayerID, Season: r.Season, ArchetypeID: id, Name: names[id], Distance: d,
		}
		res.Seasons[r.Season]++
	}

	slog.Info("archetypes fitted",
		"rows", len(pooled), "seasons", len(res.Seasons), "k", opts.K,
		"inertia", km.Inertia, "iterations", km.Iterations, "imputed_cells", im.Total())
	return res, nil
}

// Assign labels new rows with the persisted scaler and centroids.
func (m *Model) Assign(rows []model.PlayerSeasonFeatures) ([]model.ArchetypeAssignment, error) {
	mat := features.Matrix(rows)
	if _, err := features.ImputeWith(mat, m.Fill); err != nil {
		return nil, fmt.Errorf("impute: %w", err)
	}
	out := make([]model.ArchetypeAssignment, len(rows))
	for i, r := range rows {
		p, err := m.Scaler.TransformRow(mat[i])
		if err != nil {
			return nil, fmt.Errorf("row %s/%s: %w", r.PlayerID, r.Season, err)
		}
		id, d := m.Clusters.Predict(p)
		out[i] = model.ArchetypeAssignment{
			PlayerID: r.PlayerID, Season: r.Season, ArchetypeID: id, Name: m.Name(id), Distance: d,
		}
	}
	return out, nil
}

// Name returns the human-readable name of an archetype id.
func (m *Model) Name(id int) string {
	if id >= 0 && id < len(m.Names) {
		return m.Names[id]
	}
	return fmt.Sprintf("Archetype %d", id)
}
