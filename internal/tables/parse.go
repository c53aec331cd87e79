package tables

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pable/lineup-matchups/internal/model"
)

// FeatureColumn is the header name of raw feature i.
func FeatureColumn(i int) string { return fmt.Sprintf("f%d", i) }

// ParseFeatures reads player_id, season, f0..f47. Blank cells and "NA"
// become NaN so the normalizer can impute them.
func ParseFeatures(rows [][]string) ([]model.PlayerSeasonFeatures, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	h := newHeader(rows[0])
	cols := []string{"player_id", "season"}
	for i := 0; i < model.NumFeatures; i++ {
		cols = append(cols, FeatureColumn(i))
	}
	if err := h.require(cols...); err != nil {
		return nil, err
	}
	out := make([]model.PlayerSeasonFeatures, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if blank(row) {
			continue
		}
		f := model.PlayerSeasonFeatures{
			PlayerID: h.get(row, "player_id"),
			Season:   h.get(row, "season"),
			Values:   make([]float64, model.NumFeatures),
		}
		if f.PlayerID == "" || f.Season == "" {
			return nil, fmt.Errorf("row %d: player_id and season are required", line)
		}
		for i := range f.Values {
			v, err := parseMaybeFloat(h.get(row, FeatureColumn(i)))
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", line, FeatureColumn(i), err)
			}
			f.Values[i] = v
		}
		out = append(out, f)
	}
	return out, nil
}

// ParseSkills reads player_id, season, off_rating, def_rating.
func ParseSkills(rows [][]string) ([]model.SkillRating, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	h := newHeader(rows[0])
	if err := h.require("player_id", "season", "off_rating", "def_rating"); err != nil {
		return nil, err
	}
	out := make([]model.SkillRating, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if blank(row) {
			continue
		}
		s := model.SkillRating{PlayerID: h.get(row, "player_id"), Season: h.get(row, "season")}
		var err error
		if s.Offensive, err = parseRating(h.get(row, "off_rating")); err != nil {
			return nil, fmt.Errorf("row %d: off_rating: %w", line, err)
		}
		if s.Defensive, err = parseRating(h.get(row, "def_rating")); err != nil {
			return nil, fmt.Errorf("row %d: def_rating: %w", line, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// PossessionColumns lists the required possession columns.
func PossessionColumns() []string {
	cols := []string{"game_id", "event_num", "season"}
	for i := 1; i <= model.LineupSize; i++ {
		cols = append(cols, fmt.Sprintf("home_%d", i))
	}
	for i := 1; i <= model.LineupSize; i++ {
		cols = append(cols, fmt.Sprintf("away_%d", i))
	}
	return append(cols, "offense", "points")
}

// ParsePossessions reads the possession log. offense is "home" or "away";
// the optional style columns default to empty/false.
func ParsePossessions(rows [][]string) ([]model.Possession, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	h := newHeader(rows[0])
	if err := h.require(PossessionColumns()...); err != nil {
		return nil, err
	}
	out := make([]model.Possession, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if blank(row) {
			continue
		}
		p, err := parsePossession(h, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePossession(h header, row []string) (model.Possession, error) {
	p := model.Possession{GameID: h.get(row, "game_id"), Season: h.get(row, "season")}
	var err error
	if p.EventNum, err = strconv.Atoi(h.get(row, "event_num")); err != nil {
		return p, fmt.Errorf("event_num: %w", err)
	}
	for i := 0; i < model.LineupSize; i++ {
		p.Home[i] = h.get(row, fmt.Sprintf("home_%d", i+1))
		p.Away[i] = h.get(row, fmt.Sprintf("away_%d", i+1))
	}
	switch strings.ToLower(h.get(row, "offense")) {
	case "home", "h":
		p.HomeOffense = true
	case "away", "a":
	default:
		return p, fmt.Errorf("offense %q: want home or away", h.get(row, "offense"))
	}
	if p.Points, err = strconv.Atoi(h.get(row, "points")); err != nil {
		return p, fmt.Errorf("points: %w", err)
	}

	if d := h.get(row, "duration"); d != "" {
		if p.DurationSec, err = strconv.ParseFloat(d, 64); err != nil {
			return p, fmt.Errorf("duration: %w", err)
		}
	}
	switch z := model.ShotZone(strings.ToLower(h.get(row, "shot_zone"))); z {
	case model.ShotNone, model.ShotRim, model.ShotMid, model.ShotThree:
		p.Shot = z
	default:
		return p, fmt.Errorf("shot_zone %q", z)
	}
	flags := []struct {
		col string
		dst *bool
	}{
		{"assisted", &p.Assisted},
		{"turnover", &p.Turnover},
		{"fta_trip", &p.FTTrip},
		{"oreb", &p.OffRebound},
	}
	for _, f := range flags {
		v := h.get(row, f.col)
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.ParseBool(v); err != nil {
			return p, fmt.Errorf("%s: %w", f.col, err)
		}
	}
	return p, nil
}

// parseRating accepts finite numbers only; a rating is never imputed.
func parseRating(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNonFinite, s)
	}
	return v, nil
}

func parseMaybeFloat(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "na", "n/a", "null":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// LoadFeatures reads and parses a feature table file.
func LoadFeatures(path string) ([]model.PlayerSeasonFeatures, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out, err := ParseFeatures(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// LoadSkills reads and parses a skill-rating table file.
func LoadSkills(path string) ([]model.SkillRating, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out, err := ParseSkills(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// LoadPossessions reads and parses a possession log file.
func LoadPossessions(path string) ([]model.Possession, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	out, err := ParsePossessions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
