package matchup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pable/lineup-matchups/internal/aggregator"
	"github.com/pable/lineup-matchups/internal/lineup"
	"github.com/pable/lineup-matchups/internal/metrics"
	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/supercluster"
)

// DefaultMaxDropRate is the share of possessions that may be excluded before
// a build is rejected.
const DefaultMaxDropRate = 0.25

// maxIncomplete caps the per-possession errors kept in Result.Incomplete.
const maxIncomplete = 10

// Builder turns possessions into training rows.
type Builder struct {
	Resolver   *lineup.Resolver
	Assigner   *supercluster.Assigner
	Aggregates *aggregator.Result // may be nil; unseen keys then use the fallback
	Space      Space

	MaxDropRate float64
	// NoFallback excludes possessions where either side was placed by the
	// hash fallback.
	NoFallback bool
	Metrics    *metrics.Metrics
}

// Result is the output of Build.
type Result struct {
	Rows       []model.TrainingRow
	Exclusions map[string]int
	Fallbacks  int // possession sides assigned by the hash fallback
	Total      int
	Matchups   map[int]int // rows per dense matchup index

	// Incomplete holds the first excluded possessions with their uncovered
	// players.
	Incomplete []*model.LineupIncompleteError
}

// Dropped is the number of excluded possessions.
func (r *Result) Dropped() int {
	n := 0
	for _, c := range r.Exclusions {
		n += c
	}
	return n
}

// DropRate is Dropped/Total, or 0 for an empty input.
func (r *Result) DropRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Dropped()) / float64(r.Total)
}

// Reasons returns the exclusion reasons in a stable order.
func (r *Result) Reasons() []string {
	out := make([]string, 0, len(r.Exclusions))
	for k := range r.Exclusions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (b *Builder) aggregate(key model.LineupKey, side model.Side) *aggregator.LineupAggregate {
	if b.Aggregates == nil {
		return nil
	}
	return b.Aggregates.Aggregates[aggregator.AggregateKey{Key: key, Side: side}]
}

// Build resolves both lineups of every possession, assigns the offensive
// lineup's offense supercluster and the defensive lineup's defense
// supercluster, and emits one TrainingRow per fully covered possession.
// Excluded possessions are counted by reason. When the drop rate exceeds
// MaxDropRate the rows are discarded and a summary
// *model.LineupIncompleteError is returned together with the counts.
func (b *Builder) Build(ctx context.Context, possessions []model.Possession) (*Result, error) {
	ceiling := b.MaxDropRate
	if ceiling <= 0 {
		ceiling = DefaultMaxDropRate
	}
	res := &Result{
		Exclusions: make(map[string]int),
		Matchups:   make(map[int]int),
		Total:      len(possessions),
	}
	exclude := func(reason string) {
		res.Exclusions[reason]++
		b.Metrics.Excluded(reason)
	}

	for i := range possessions {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p := &possessions[i]
		b.Metrics.Seen()

		off, offErr := b.Resolver.Resolve(p.Season, p.Offense())
		def, defErr := b.Resolver.Resolve(p.Season, p.Defense())
		if offErr != nil || defErr != nil {
			exclude(exclusionReason(offErr, defErr))
			lie := incomplete(p, offErr, defErr)
			if len(res.Incomplete) < maxIncomplete {
				res.Incomplete = append(res.Incomplete, lie)
			}
			slog.Debug("possession excluded", "err", lie)
			continue
		}

		offSC := b.Assigner.Assign(off.Key, model.SideOffense, b.aggregate(off.Key, model.SideOffense))
		defSC := b.Assigner.Assign(def.Key, model.SideDefense, b.aggregate(def.Key, model.SideDefense))
		fallbacks := 0
		if offSC.LowConfidence() {
			fallbacks++
			b.Metrics.Fallback(model.SideOffense.String())
		}
		if defSC.LowConfidence() {
			fallbacks++
			b.Metrics.Fallback(model.SideDefense.String())
		}
		res.Fallbacks += fallbacks
		if b.NoFallback && fallbacks > 0 {
			exclude(model.ReasonFallbackDisallowed)
			continue
		}

		id, err := b.Space.New(offSC.SuperclusterID, defSC.SuperclusterID)
		if err != nil {
			return nil, fmt.Errorf("build matchup for game %s event %d: %w", p.GameID, p.EventNum, err)
		}
		zOff, zDef := aggregator.AggregatePossession(off, def)
		idx := b.Space.Index(id)
		res.Rows = append(res.Rows, model.TrainingRow{
			GameID:   p.GameID,
			EventNum: p.EventNum,
			Outcome:  p.Points,
			Matchup:  idx,
			ZOff:     zOff,
			ZDef:     zDef,
		})
		res.Matchups[idx]++
	}
	b.Metrics.Rows(len(res.Rows))

	slog.Info("matchups built", "possessions", res.Total, "rows", len(res.Rows),
		"dropped", res.Dropped(), "fallbacks", res.Fallbacks, "matchups", len(res.Matchups))
	if res.DropRate() > ceiling {
		err := &model.LineupIncompleteError{Dropped: res.Dropped(), Total: res.Total, Ceiling: ceiling}
		res.Rows = nil
		return res, err
	}
	return res, nil
}

// incomplete merges the uncovered players of both lineups into one error
// stamped with the possession's game and event.
func incomplete(p *model.Possession, errs ...error) *model.LineupIncompleteError {
	out := &model.LineupIncompleteError{GameID: p.GameID, EventNum: p.EventNum}
	for _, err := range errs {
		var lie *model.LineupIncompleteError
		if errors.As(err, &lie) {
			out.Missing = append(out.Missing, lie.Missing...)
		}
	}
	return out
}

// exclusionReason picks one reason for a possession where either lineup
// failed to resolve. A missing archetype on either side outranks a missing
// skill rating.
func exclusionReason(errs ...error) string {
	reason := ""
	for _, err := range errs {
		var lie *model.LineupIncompleteError
		if !errors.As(err, &lie) {
			continue
		}
		r := lie.Reason()
		if r == model.ReasonMissingArchetype {
			return r
		}
		if reason == "" {
			reason = r
		}
	}
	if reason == "" {
		reason = "unresolved"
	}
	return reason
}
