package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pable/lineup-matchups/internal/model"
)

// ReplaceFeatures stores raw feature rows, replacing every stored row of the
// seasons present in the input. Non-finite values are stored as NULL.
func (db *DB) ReplaceFeatures(rows []model.PlayerSeasonFeatures) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteSeasons(tx, "player_features", seasonsOf(len(rows), func(i int) string { return rows[i].Season })); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO player_features(player_id, season, feature, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		for i, v := range r.Values {
			if _, err := stmt.Exec(r.PlayerID, r.Season, i, nullable(v)); err != nil {
				return fmt.Errorf("insert player_features for %s/%s: %w", r.PlayerID, r.Season, err)
			}
		}
	}
	return tx.Commit()
}

// LoadFeatures returns every stored feature row ordered by season then player.
// NULL cells come back as NaN.
func (db *DB) LoadFeatures() ([]model.PlayerSeasonFeatures, error) {
	rows, err := db.conn.Query(`
		SELECT player_id, season, feature, value
		FROM player_features ORDER BY season, player_id, feature`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlayerSeasonFeatures
	for rows.Next() {
		var id, season string
		var feature int
		var v sql.NullFloat64
		if err := rows.Scan(&id, &season, &feature, &v); err != nil {
			return nil, err
		}
		if feature < 0 || feature >= model.NumFeatures {
			return nil, fmt.Errorf("player_features %s/%s: feature index %d out of range", id, season, feature)
		}
		if n := len(out); n == 0 || out[n-1].PlayerID != id || out[n-1].Season != season {
			values := make([]float64, model.NumFeatures)
			for i := range values {
				values[i] = math.NaN()
			}
			out = append(out, model.PlayerSeasonFeatures{PlayerID: id, Season: season, Values: values})
		}
		if v.Valid {
			out[len(out)-1].Values[feature] = v.Float64
		}
	}
	return out, rows.Err()
}

type skillRow struct {
	PlayerID  string  `db:"player_id"`
	Season    string  `db:"season"`
	Offensive float64 `db:"off_rating"`
	Defensive float64 `db:"def_rating"`
}

// ReplaceSkills stores skill ratings, replacing the seasons present in the input.
func (db *DB) ReplaceSkills(skills []model.SkillRating) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteSeasons(tx, "skill_ratings", seasonsOf(len(skills), func(i int) string { return skills[i].Season })); err != nil {
		return err
	}
	stmt, err := tx.PrepareNamed(`
		INSERT OR REPLACE INTO skill_ratings(player_id, season, off_rating, def_rating)
		VALUES (:player_id, :season, :off_rating, :def_rating)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range skills {
		if _, err := stmt.Exec(skillRow(s)); err != nil {
			return fmt.Errorf("insert skill_ratings for %s/%s: %w", s.PlayerID, s.Season, err)
		}
	}
	return tx.Commit()
}

// LoadSkills returns every stored skill rating.
func (db *DB) LoadSkills() ([]model.SkillRating, error) {
	var rows []skillRow
	if err := db.conn.Select(&rows, `
		SELECT player_id, season, off_rating, def_rating
		FROM skill_ratings ORDER BY season, player_id`); err != nil {
		return nil, err
	}
	out := make([]model.SkillRating, len(rows))
	for i, r := range rows {
		out[i] = model.SkillRating(r)
	}
	return out, nil
}

// ReplacePossessions stores the possession log, replacing the seasons present
// in the input.
func (db *DB) ReplacePossessions(possessions []model.Possession) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteSeasons(tx, "possessions", seasonsOf(len(possessions), func(i int) string { return possessions[i].Season })); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO possessions(
			game_id, event_num, season,
			home_1, home_2, home_3, home_4, home_5,
			away_1, away_2, away_3, away_4, away_5,
			home_offense, points,
			duration, shot_zone, assisted, turnover, fta_trip, oreb
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range possessions {
		_, err = stmt.Exec(
			p.GameID, p.EventNum, p.Season,
			p.Home[0], p.Home[1], p.Home[2], p.Home[3], p.Home[4],
			p.Away[0], p.Away[1], p.Away[2], p.Away[3], p.Away[4],
			boolInt(p.HomeOffense), p.Points,
			p.DurationSec, string(p.Shot),
			boolInt(p.Assisted), boolInt(p.Turnover), boolInt(p.FTTrip), boolInt(p.OffRebound),
		)
		if err != nil {
			return fmt.Errorf("insert possessions for %s/%d: %w", p.GameID, p.EventNum, err)
		}
	}
	return tx.Commit()
}

// LoadPossessions returns the possession log ordered by game then event.
func (db *DB) LoadPossessions() ([]model.Possession, error) {
	rows, err := db.conn.Query(`
		SELECT game_id, event_num, season,
		       home_1, home_2, home_3, home_4, home_5,
		       away_1, away_2, away_3, away_4, away_5,
		       home_offense, points,
		       duration, shot_zone, assisted, turnover, fta_trip, oreb
		FROM possessions ORDER BY game_id, event_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Possession
	for rows.Next() {
		var p model.Possession
		var shot string
		var homeOff, assisted, turnover, fta, oreb int
		if err := rows.Scan(&p.GameID, &p.EventNum, &p.Season,
			&p.Home[0], &p.Home[1], &p.Home[2], &p.Home[3], &p.Home[4],
			&p.Away[0], &p.Away[1], &p.Away[2], &p.Away[3], &p.Away[4],
			&homeOff, &p.Points,
			&p.DurationSec, &shot, &assisted, &turnover, &fta, &oreb); err != nil {
			return nil, err
		}
		p.HomeOffense = homeOff != 0
		p.Shot = model.ShotZone(shot)
		p.Assisted = assisted != 0
		p.Turnover = turnover != 0
		p.FTTrip = fta != 0
		p.OffRebound = oreb != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceArchetypes swaps the whole archetype table in one transaction.
func (db *DB) ReplaceArchetypes(assignments []model.ArchetypeAssignment) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM archetype_assignments`); err != nil {
		return fmt.Errorf("clear archetype_assignments: %w", err)
	}
	stmt, err := tx.PrepareNamed(`
		INSERT OR REPLACE INTO archetype_assignments(player_id, season, archetype_id, archetype_name, distance)
		VALUES (:player_id, :season, :archetype_id, :archetype_name, :distance)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.Exec(a); err != nil {
			return fmt.Errorf("insert archetype_assignments for %s/%s: %w", a.PlayerID, a.Season, err)
		}
	}
	return tx.Commit()
}

// LoadArchetypes returns every stored archetype assignment.
func (db *DB) LoadArchetypes() ([]model.ArchetypeAssignment, error) {
	var out []model.ArchetypeAssignment
	err := db.conn.Select(&out, `
		SELECT player_id, season, archetype_id, archetype_name, distance
		FROM archetype_assignments ORDER BY season, player_id`)
	return out, err
}

// ArchetypeCount is the number of player-seasons labelled with one archetype.
type ArchetypeCount struct {
	ArchetypeID int    `db:"archetype_id"`
	Name        string `db:"archetype_name"`
	Players     int    `db:"players"`
}

// ArchetypeCounts returns the population of every archetype id.
func (db *DB) ArchetypeCounts() ([]ArchetypeCount, error) {
	var out []ArchetypeCount
	err := db.conn.Select(&out, `
		SELECT archetype_id, MIN(archetype_name) AS archetype_name, COUNT(*) AS players
		FROM archetype_assignments GROUP BY archetype_id ORDER BY archetype_id`)
	return out, err
}

// SaveArtifact stores v as JSON under name, replacing any previous value.
func (db *DB) SaveArtifact(name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", name, err)
	}
	_, err = db.conn.Exec(`
		INSERT OR REPLACE INTO artifacts(name, body, updated_at) VALUES (?, ?, ?)`,
		name, string(body), now())
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", name, err)
	}
	return nil
}

// LoadArtifact decodes the artifact stored under name into v. It reports
// false when no such artifact exists.
func (db *DB) LoadArtifact(name string, v any) (bool, error) {
	var body string
	err := db.conn.Get(&body, `SELECT body FROM artifacts WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decode artifact %s: %w", name, err)
	}
	return true, nil
}

// ReplaceSuperclusters swaps the whole lineup supercluster table.
func (db *DB) ReplaceSuperclusters(assignments []model.SuperclusterAssignment) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM lineup_superclusters`); err != nil {
		return fmt.Errorf("clear lineup_superclusters: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO lineup_superclusters(lineup_key, side, supercluster_id, source, possessions)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.Exec(string(a.Key), a.Side.String(), a.SuperclusterID, string(a.Source), a.Possessions); err != nil {
			return fmt.Errorf("insert lineup_superclusters for %s: %w", a.Key, err)
		}
	}
	return tx.Commit()
}

// LoadSuperclusters returns the stored assignments ordered by side then key.
func (db *DB) LoadSuperclusters() ([]model.SuperclusterAssignment, error) {
	rows, err := db.conn.Query(`
		SELECT lineup_key, side, supercluster_id, source, possessions
		FROM lineup_superclusters ORDER BY side DESC, lineup_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SuperclusterAssignment
	for rows.Next() {
		var a model.SuperclusterAssignment
		var key, side, source string
		if err := rows.Scan(&key, &side, &a.SuperclusterID, &source, &a.Possessions); err != nil {
			return nil, err
		}
		if a.Side, err = model.ParseSide(side); err != nil {
			return nil, fmt.Errorf("lineup_superclusters %s: %w", key, err)
		}
		a.Key = model.LineupKey(key)
		a.Source = model.AssignmentSource(source)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ZColumns lists the training_rows columns holding the Z vectors.
func ZColumns() []string {
	cols := make([]string, 0, 2*model.NumArchetypes)
	for _, side := range []string{"off", "def"} {
		for a := 0; a < model.NumArchetypes; a++ {
			cols = append(cols, fmt.Sprintf("z_%s_%d", side, a))
		}
	}
	return cols
}

// ReplaceTrainingRows swaps the whole training table.
func (db *DB) ReplaceTrainingRows(rows []model.TrainingRow) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM training_rows`); err != nil {
		return fmt.Errorf("clear training_rows: %w", err)
	}
	cols := ZColumns()
	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT OR REPLACE INTO training_rows(game_id, event_num, outcome, matchup, %s)
		VALUES (?, ?, ?, ?, %s)`, strings.Join(cols, ", "), placeholders(len(cols))))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, 4+len(cols))
	for _, r := range rows {
		args[0], args[1], args[2], args[3] = r.GameID, r.EventNum, r.Outcome, r.Matchup
		for a := 0; a < model.NumArchetypes; a++ {
			args[4+a] = r.ZOff[a]
			args[4+model.NumArchetypes+a] = r.ZDef[a]
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert training_rows for %s/%d: %w", r.GameID, r.EventNum, err)
		}
	}
	return tx.Commit()
}

// LoadTrainingRows returns the training table ordered by game then event.
func (db *DB) LoadTrainingRows() ([]model.TrainingRow, error) {
	rows, err := db.conn.Query(fmt.Sprintf(`
		SELECT game_id, event_num, outcome, matchup, %s
		FROM training_rows ORDER BY game_id, event_num`, strings.Join(ZColumns(), ", ")))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrainingRow
	for rows.Next() {
		var r model.TrainingRow
		dst := []any{&r.GameID, &r.EventNum, &r.Outcome, &r.Matchup}
		for a := range r.ZOff {
			dst = append(dst, &r.ZOff[a])
		}
		for a := range r.ZDef {
			dst = append(dst, &r.ZDef[a])
		}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TableCount is the row count of one table.
type TableCount struct {
	Table string
	Rows  int
}

// Overview returns the row count of every pipeline table in pipeline order.
func (db *DB) Overview() ([]TableCount, error) {
	tables := []string{
		"player_features", "archetype_assignments", "skill_ratings", "possessions",
		"lineup_superclusters", "training_rows", "model_runs", "coefficients",
		"param_diagnostics", "posterior_draws", "artifacts",
	}
	out := make([]TableCount, 0, len(tables))
	for _, t := range tables {
		var n int
		if err := db.conn.Get(&n, "SELECT COUNT(*) FROM "+t); err != nil {
			return nil, fmt.Errorf("count %s: %w", t, err)
		}
		out = append(out, TableCount{Table: t, Rows: n})
	}
	return out, nil
}

// derivedTables are written by the fit stages, children before parents.
var derivedTables = []string{
	"posterior_draws", "param_diagnostics", "coefficients", "model_runs",
	"training_rows", "lineup_superclusters", "archetype_assignments", "artifacts",
}

// ClearDerived deletes everything the pipeline computed, keeping the imported
// features, skill ratings and possessions. It returns the rows removed per
// table.
func (db *DB) ClearDerived() ([]TableCount, error) {
	tx, err := db.conn.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]TableCount, 0, len(derivedTables))
	for _, t := range derivedTables {
		res, err := tx.Exec("DELETE FROM " + t)
		if err != nil {
			return nil, fmt.Errorf("clear %s: %w", t, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		out = append(out, TableCount{Table: t, Rows: int(n)})
	}
	return out, tx.Commit()
}

// QueryRaw runs an arbitrary read query and returns every cell as text.
// NULL is rendered as "NULL".
func (db *DB) QueryRaw(query string) ([]string, [][]string, error) {
	rows, err := db.conn.Queryx(query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, nil, err
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			switch x := v.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(x)
			default:
				row[i] = fmt.Sprint(x)
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func seasonsOf(n int, season func(i int) string) []string {
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < n; i++ {
		if s := season(i); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func deleteSeasons(tx *sqlx.Tx, table string, seasons []string) error {
	if len(seasons) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM "+table+" WHERE season IN (?)", seasons)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nullable maps NaN and ±Inf to NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
