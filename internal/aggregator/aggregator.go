package aggregator

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/pable/lineup-matchups/internal/lineup"
	"github.com/pable/lineup-matchups/internal/model"
)

// ZVectors sums ratings into archetype buckets. Sums (not means) keep "two
// players of archetype A" a stronger signal than one; absent archetypes stay 0.
func ZVectors(archetypes [model.LineupSize]int, ratings [model.LineupSize]float64) [model.NumArchetypes]float64 {
	var z [model.NumArchetypes]float64
	for i, a := range archetypes {
		z[a] += ratings[i]
	}
	return z
}

// AggregatePossession builds the offense and defense Z-vectors of one possession:
// z_off from the offensive ratings of the offensive lineup, z_def from the
// defensive ratings of the defensive lineup. Both lineups must be fully
// resolved; partial coverage is rejected upstream by lineup.Resolver.
func AggregatePossession(off, def lineup.Resolution) (zOff, zDef [model.NumArchetypes]float64) {
	return ZVectors(off.Archetypes, off.Offensive), ZVectors(def.Archetypes, def.Defensive)
}

// ---- Lineup style aggregates ----

// FeatureNames lists the supercluster feature set in column order. On the
// defense side every rate is "allowed".
var FeatureNames = []string{
	"pace", "points_per_poss", "three_rate", "rim_rate", "mid_rate",
	"assist_rate", "turnover_rate", "fta_rate", "oreb_rate",
}

// secondsPer48 converts mean possession length into possessions per 48 minutes.
const secondsPer48 = 48 * 60

// AggregateKey identifies one lineup on one side of the ball.
type AggregateKey struct {
	Key  model.LineupKey
	Side model.Side
}

// LineupAggregate accumulates on-court tendencies of a lineup key.
type LineupAggregate struct {
	Key         model.LineupKey
	Side        model.Side
	Seasons     map[string]int
	Possessions int
	Points      int
	Durations   []float64
	Threes      int
	Rim         int
	Mid         int
	Assisted    int
	Turnovers   int
	FTTrips     int
	OffRebounds int
}

func newAggregate(k AggregateKey) *LineupAggregate {
	return &LineupAggregate{Key: k.Key, Side: k.Side, Seasons: make(map[string]int)}
}

func (a *LineupAggregate) add(p *model.Possession) {
	a.Possessions++
	a.Seasons[p.Season]++
	a.Points += p.Points
	if p.DurationSec > 0 {
		a.Durations = append(a.Durations, p.DurationSec)
	}
	switch p.Shot {
	case model.ShotThree:
		a.Threes++
	case model.ShotRim:
		a.Rim++
	case model.ShotMid:
		a.Mid++
	}
	if p.Assisted {
		a.Assisted++
	}
	if p.Turnover {
		a.Turnovers++
	}
	if p.FTTrip {
		a.FTTrips++
	}
	if p.OffRebound {
		a.OffRebounds++
	}
}

// Features returns the aggregate in FeatureNames order. Pace is 0 when no
// possession carried a duration.
func (a *LineupAggregate) Features() []float64 {
	n := float64(a.Possessions)
	if n == 0 {
		return make([]float64, len(FeatureNames))
	}
	pace := 0.0
	if mean, err := stats.Mean(a.Durations); err == nil && mean > 0 {
		pace = secondsPer48 / mean
	}
	return []float64{
		pace,
		float64(a.Points) / n,
		float64(a.Threes) / n,
		float64(a.Rim) / n,
		float64(a.Mid) / n,
		float64(a.Assisted) / n,
		float64(a.Turnovers) / n,
		float64(a.FTTrips) / n,
		float64(a.OffRebounds) / n,
	}
}

// Keyer maps a season's five player ids to a lineup key.
type Keyer func(season string, players [model.LineupSize]string) (model.LineupKey, bool)

// Result is the output of LineupAggregates.
type Result struct {
	Aggregates map[AggregateKey]*LineupAggregate
	// Skipped counts possessions where either lineup had an unassigned player.
	Skipped int
}

// Sorted returns the aggregates ordered by side then key, for deterministic
// clustering input.
func (r *Result) Sorted(side model.Side) []*LineupAggregate {
	var out []*LineupAggregate
	for k, a := range r.Aggregates {
		if k.Side == side {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LineupAggregates groups possessions by lineup key on each side. The
// offensive lineup accumulates its own tendencies; the defensive lineup
// accumulates the same quantities as allowed. Only archetype coverage is
// needed, so skill ratings play no part here.
func LineupAggregates(possessions []model.Possession, keyOf Keyer) *Result {
	res := &Result{Aggregates: make(map[AggregateKey]*LineupAggregate)}
	for i := range possessions {
		p := &possessions[i]
		offKey, ok := keyOf(p.Season, p.Offense())
		if !ok {
			res.Skipped++
			continue
		}
		defKey, ok := keyOf(p.Season, p.Defense())
		if !ok {
			res.Skipped++
			continue
		}
		for _, k := range []AggregateKey{{offKey, model.SideOffense}, {defKey, model.SideDefense}} {
			agg, ok := res.Aggregates[k]
			if !ok {
				agg = newAggregate(k)
				res.Aggregates[k] = agg
			}
			agg.add(p)
		}
	}
	return res
}
