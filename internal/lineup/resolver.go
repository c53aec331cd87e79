package lineup

import (
	"math"

	"github.com/pable/lineup-matchups/internal/model"
)

type playerSeason struct{ player, season string }

// Resolution is a fully covered lineup.
type Resolution struct {
	Key        model.LineupKey
	Players    [model.LineupSize]string
	Archetypes [model.LineupSize]int
	Offensive  [model.LineupSize]float64
	Defensive  [model.LineupSize]float64
}

// Resolver looks up archetypes and skill ratings per (player, season).
type Resolver struct {
	archetypes map[playerSeason]int
	skills     map[playerSeason]model.SkillRating
}

// NewResolver indexes the archetype and skill tables.
func NewResolver(archetypes []model.ArchetypeAssignment, skills []model.SkillRating) *Resolver {
	r := &Resolver{
		archetypes: make(map[playerSeason]int, len(archetypes)),
		skills:     make(map[playerSeason]model.SkillRating, len(skills)),
	}
	for _, a := range archetypes {
		r.archetypes[playerSeason{a.PlayerID, a.Season}] = a.ArchetypeID
	}
	for _, s := range skills {
		r.skills[playerSeason{s.PlayerID, s.Season}] = s
	}
	return r
}

// Resolve returns the canonical lineup with per-player ratings. If any player
// lacks an archetype or a finite skill rating the lineup is not resolved and a
// *model.LineupIncompleteError lists every uncovered player; there is no
// default archetype and no interpolated rating.
func (r *Resolver) Resolve(season string, players [model.LineupSize]string) (Resolution, error) {
	res := Resolution{Players: players}
	var missing []model.MissingPlayer
	for i, p := range players {
		k := playerSeason{p, season}
		id, ok := r.archetypes[k]
		if !ok {
			missing = append(missing, model.MissingPlayer{PlayerID: p, Reason: model.ReasonMissingArchetype})
			continue
		}
		s, ok := r.skills[k]
		if !ok || !finite(s.Offensive) || !finite(s.Defensive) {
			missing = append(missing, model.MissingPlayer{PlayerID: p, Reason: model.ReasonMissingSkill})
			continue
		}
		res.Archetypes[i] = id
		res.Offensive[i] = s.Offensive
		res.Defensive[i] = s.Defensive
	}
	if len(missing) > 0 {
		return Resolution{}, &model.LineupIncompleteError{Missing: missing}
	}
	key, err := Canonicalize(res.Archetypes)
	if err != nil {
		return Resolution{}, err
	}
	res.Key = key
	return res, nil
}

// KeyOnly canonicalizes a lineup using archetypes alone. It is used when
// grouping possessions for style aggregates, which need no skill ratings.
func (r *Resolver) KeyOnly(season string, players [model.LineupSize]string) (model.LineupKey, bool) {
	var ids [model.LineupSize]int
	for i, p := range players {
		id, ok := r.archetypes[playerSeason{p, season}]
		if !ok {
			return "", false
		}
		ids[i] = id
	}
	key, err := Canonicalize(ids)
	if err != nil {
		return "", false
	}
	return key, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
