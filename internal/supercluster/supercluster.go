// Package supercluster groups lineup keys into style superclusters, one
// clustering per side of the ball.
//
// Keys with enough observed possessions are placed by a K-means model trained
// once on pooled multi-season lineup aggregates. Keys with too little data, or
// never seen, get hash(key) mod K. The fallback is deterministic but carries
// no style meaning, so those assignments are tagged hash-fallback.
package supercluster

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"github.com/pable/lineup-matchups/internal/aggregator"
	"github.com/pable/lineup-matchups/internal/cluster"
	"github.com/pable/lineup-matchups/internal/features"
	"github.com/pable/lineup-matchups/internal/model"
)

// Options controls Fit.
type Options struct {
	K                 int
	Seed              uint64
	Restarts          int
	MinPossessions    int // below this a key uses the hash fallback
	MinRowsPerFeature int
	// AllowUntrained lets a side with too few eligible keys run on the hash
	// fallback alone instead of failing.
	AllowUntrained bool
}

func (o Options) withDefaults() Options {
	if o.K <= 0 {
		o.K = model.NumSuperclusters
	}
	if o.MinPossessions <= 0 {
		o.MinPossessions = 10
	}
	return o
}

// SideModel is the persisted scaler and centroids for one side.
type SideModel struct {
	Scaler   *features.Scaler `json:"scaler"`
	Clusters *cluster.Model   `json:"clusters"`
	Keys     int              `json:"keys"`
}

type cacheKey struct {
	key  model.LineupKey
	side model.Side
}

// Assigner assigns exactly one supercluster id to every (key, side). The
// first assignment of a key is cached, so repeated calls agree.
type Assigner struct {
	k              int
	minPossessions int
	sides          [2]*SideModel

	mu    sync.Mutex
	cache map[cacheKey]model.SuperclusterAssignment
}

// NewAssigner builds an Assigner from persisted side models. Either model may
// be nil, in which case that side always uses the hash fallback.
func NewAssigner(k, minPossessions int, offense, defense *SideModel) *Assigner {
	return &Assigner{
		k:              k,
		minPossessions: minPossessions,
		sides:          [2]*SideModel{offense, defense},
		cache:          make(map[cacheKey]model.SuperclusterAssignment),
	}
}

// Model returns the trained model of a side, or nil.
func (a *Assigner) Model(side model.Side) *SideModel { return a.sides[side] }

// Fit trains one K-means model per side on the pooled aggregates, then assigns
// every aggregated key.
func Fit(ctx context.Context, aggs *aggregator.Result, opts Options) (*Assigner, error) {
	opts = opts.withDefaults()
	a := NewAssigner(opts.K, opts.MinPossessions, nil, nil)
	for _, side := range []model.Side{model.SideOffense, model.SideDefense} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sm, err := fitSide(aggs.Sorted(side), opts)
		var ice *model.InsufficientClusterabilityError
		var dme *model.DataMissingError
		switch {
		case err == nil:
			a.sides[side] = sm
		case opts.AllowUntrained && (errors.As(err, &ice) || errors.As(err, &dme)):
			slog.Warn("supercluster side untrained; hash fallback only", "side", side, "err", err)
		default:
			return nil, fmt.Errorf("fit %s superclusters: %w", side, err)
		}
	}
	for _, side := range []model.Side{model.SideOffense, model.SideDefense} {
		for _, agg := range aggs.Sorted(side) {
			a.Assign(agg.Key, side, agg)
		}
	}
	return a, nil
}

func fitSide(aggs []*aggregator.LineupAggregate, opts Options) (*SideModel, error) {
	var rows [][]float64
	for _, agg := range aggs {
		if agg.Possessions >= opts.MinPossessions {
			rows = append(rows, agg.Features())
		}
	}
	if len(rows) < opts.K {
		return nil, &model.InsufficientClusterabilityError{
			Distinct: len(rows), K: opts.K,
			Reason: fmt.Sprintf("lineup keys with >= %d possessions", opts.MinPossessions),
		}
	}
	scaler, err := features.FitRobust(rows, features.FitOptions{
		MinRowsPerFeature: opts.MinRowsPerFeature,
		Table:             "lineup_aggregates",
	})
	if err != nil {
		return nil, err
	}
	scaled, err := scaler.Transform(rows)
	if err != nil {
		return nil, err
	}
	km, err := cluster.Fit(scaled, cluster.Options{K: opts.K, Seed: opts.Seed, Restarts: opts.Restarts})
	if err != nil {
		return nil, err
	}
	slog.Info("superclusters fitted", "keys", len(rows), "k", opts.K, "inertia", km.Inertia)
	return &SideModel{Scaler: scaler, Clusters: km, Keys: len(rows)}, nil
}

// Assign returns the supercluster of a key on one side. agg may be nil for a
// key with no observed possessions.
func (a *Assigner) Assign(key model.LineupKey, side model.Side, agg *aggregator.LineupAggregate) model.SuperclusterAssignment {
	ck := cacheKey{key, side}
	a.mu.Lock()
	defer a.mu.Unlock()
	if got, ok := a.cache[ck]; ok {
		return got
	}

	out := model.SuperclusterAssignment{Key: key, Side: side}
	if agg != nil {
		out.Possessions = agg.Possessions
	}
	if sm := a.sides[side]; sm != nil && agg != nil && agg.Possessions >= a.minPossessions {
		if p, err := sm.Scaler.TransformRow(agg.Features()); err == nil {
			out.SuperclusterID, _ = sm.Clusters.Predict(p)
			out.Source = model.SourceTrained
		}
	}
	if out.Source == "" {
		out.SuperclusterID = HashFallback(key, a.k)
		out.Source = model.SourceHashFallback
	}
	a.cache[ck] = out
	return out
}

// Preload seeds the cache with persisted assignments so a reloaded Assigner
// returns the same ids as the run that produced them.
func (a *Assigner) Preload(assignments []model.SuperclusterAssignment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range assignments {
		a.cache[cacheKey{s.Key, s.Side}] = s
	}
}

// Assignments returns every cached assignment ordered by side then key.
func (a *Assigner) Assignments() []model.SuperclusterAssignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.SuperclusterAssignment, 0, len(a.cache))
	for _, s := range a.cache {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// HashFallback maps a key to [0, k) with 32-bit FNV-1a.
func HashFallback(key model.LineupKey, k int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(k))
}
