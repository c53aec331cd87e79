package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/pable/lineup-matchups/internal/model"
)

// ErrRunNotRunning is returned when a finished run is finished again.
var ErrRunNotRunning = errors.New("model run is not running")

// ErrAmbiguousPrefix is returned when a run id prefix matches several runs.
var ErrAmbiguousPrefix = errors.New("ambiguous run id prefix")

// CreateRun inserts run with a fresh id and status running. RunID, CreatedAt
// and Status are set on the passed value.
func (db *DB) CreateRun(run *model.ModelRun) error {
	run.RunID = uuid.NewString()
	run.CreatedAt = now()
	run.Status = model.RunRunning
	_, err := db.conn.NamedExec(`
		INSERT INTO model_runs(run_id, created_at, variant, status, rows_used, chains, warmup, samples, seed, divergences, note)
		VALUES (:run_id, :created_at, :variant, :status, :rows_used, :chains, :warmup, :samples, :seed, :divergences, :note)`,
		run)
	if err != nil {
		return fmt.Errorf("insert model_runs: %w", err)
	}
	return nil
}

// SaveDiagnostics stores the per-parameter summary of a run. NaN R-hat or
// ESS is stored as NULL.
func (db *DB) SaveDiagnostics(runID string, summary []model.ParamSummary) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO param_diagnostics(run_id, param, mean, sd, rhat, ess)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range summary {
		if _, err := stmt.Exec(runID, s.Name, s.Mean, s.SD, nullable(s.RHat), nullable(s.ESS)); err != nil {
			return fmt.Errorf("insert param_diagnostics for %s: %w", s.Name, err)
		}
	}
	return tx.Commit()
}

// LoadDiagnostics returns the stored summary of a run in insertion order.
func (db *DB) LoadDiagnostics(runID string) ([]model.ParamSummary, error) {
	var rows []struct {
		Name string          `db:"param"`
		Mean float64         `db:"mean"`
		SD   float64         `db:"sd"`
		RHat sql.NullFloat64 `db:"rhat"`
		ESS  sql.NullFloat64 `db:"ess"`
	}
	if err := db.conn.Select(&rows, `
		SELECT param, mean, sd, rhat, ess FROM param_diagnostics
		WHERE run_id = ? ORDER BY rowid`, runID); err != nil {
		return nil, err
	}
	out := make([]model.ParamSummary, len(rows))
	for i, r := range rows {
		out[i] = model.ParamSummary{Name: r.Name, Mean: r.Mean, SD: r.SD, RHat: nanIfNull(r.RHat), ESS: nanIfNull(r.ESS)}
	}
	return out, nil
}

// SaveDraws stores posterior draws indexed [chain][draw][param], one row per
// (chain, draw).
func (db *DB) SaveDraws(runID string, draws [][][]float64) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO posterior_draws(run_id, chain, draw, vals) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for c, chain := range draws {
		for d, theta := range chain {
			vals, err := json.Marshal(theta)
			if err != nil {
				return fmt.Errorf("encode draw %d of chain %d: %w", d, c, err)
			}
			if _, err := stmt.Exec(runID, c, d, string(vals)); err != nil {
				return fmt.Errorf("insert posterior_draws: %w", err)
			}
		}
	}
	return tx.Commit()
}

// LoadDraws returns the stored draws of a run indexed [chain][draw][param].
func (db *DB) LoadDraws(runID string) ([][][]float64, error) {
	rows, err := db.conn.Query(`
		SELECT chain, draw, vals FROM posterior_draws WHERE run_id = ? ORDER BY chain, draw`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][][]float64
	for rows.Next() {
		var c, d int
		var vals string
		if err := rows.Scan(&c, &d, &vals); err != nil {
			return nil, err
		}
		var theta []float64
		if err := json.Unmarshal([]byte(vals), &theta); err != nil {
			return nil, fmt.Errorf("decode draw %d of chain %d: %w", d, c, err)
		}
		for len(out) <= c {
			out = append(out, nil)
		}
		out[c] = append(out[c], theta)
	}
	return out, rows.Err()
}

// AcceptRun publishes the coefficients of a running run and marks it accepted
// in one transaction, so readers never see coefficients of an unaccepted run.
func (db *DB) AcceptRun(runID string, divergences int, coefs []model.Coefficients) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE model_runs SET status = ?, divergences = ?
		WHERE run_id = ? AND status = ?`,
		model.RunAccepted, divergences, runID, model.RunRunning)
	if err != nil {
		return fmt.Errorf("accept run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("accept run %s: %w", runID, ErrRunNotRunning)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO coefficients(run_id, matchup, variant, beta_0, beta_off, beta_def, sigma)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range coefs {
		off, err := json.Marshal(c.BetaOff)
		if err != nil {
			return err
		}
		def, err := json.Marshal(c.BetaDef)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(runID, c.Matchup, string(c.Variant), c.Beta0, string(off), string(def), c.Sigma); err != nil {
			return fmt.Errorf("insert coefficients for matchup %d: %w", c.Matchup, err)
		}
	}
	return tx.Commit()
}

// FinishRun moves a running run to a terminal status other than accepted.
func (db *DB) FinishRun(runID string, status model.RunStatus, divergences int, note string) error {
	if status == model.RunAccepted || status == model.RunRunning {
		return fmt.Errorf("finish run %s: status %s needs AcceptRun", runID, status)
	}
	res, err := db.conn.Exec(`
		UPDATE model_runs SET status = ?, divergences = ?, note = ?
		WHERE run_id = ? AND status = ?`,
		status, divergences, note, runID, model.RunRunning)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotRunning)
	}
	return nil
}

const runColumns = `run_id, created_at, variant, status, rows_used, chains, warmup, samples, seed, divergences, note`

// ListRuns returns all model runs, newest first.
func (db *DB) ListRuns() ([]model.ModelRun, error) {
	var out []model.ModelRun
	err := db.conn.Select(&out, `SELECT `+runColumns+` FROM model_runs ORDER BY created_at DESC, rowid DESC`)
	return out, err
}

// GetRunByPrefix returns the run whose id starts with prefix, or nil when
// none does.
func (db *DB) GetRunByPrefix(prefix string) (*model.ModelRun, error) {
	var runs []model.ModelRun
	if err := db.conn.Select(&runs, `SELECT `+runColumns+` FROM model_runs WHERE run_id LIKE ? LIMIT 2`, prefix+"%"); err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, nil
	case 1:
		return &runs[0], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrAmbiguousPrefix, prefix)
}

// LatestAcceptedRun returns the newest accepted run, or nil.
func (db *DB) LatestAcceptedRun() (*model.ModelRun, error) {
	var run model.ModelRun
	err := db.conn.Get(&run, `
		SELECT `+runColumns+` FROM model_runs WHERE status = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, model.RunAccepted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetCoefficients returns the published coefficients of a run by matchup.
func (db *DB) GetCoefficients(runID string) ([]model.Coefficients, error) {
	rows, err := db.conn.Query(`
		SELECT matchup, variant, beta_0, beta_off, beta_def, sigma
		FROM coefficients WHERE run_id = ? ORDER BY matchup`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Coefficients
	for rows.Next() {
		var c model.Coefficients
		var variant, off, def string
		if err := rows.Scan(&c.Matchup, &variant, &c.Beta0, &off, &def, &c.Sigma); err != nil {
			return nil, err
		}
		c.Variant = model.Variant(variant)
		if err := json.Unmarshal([]byte(off), &c.BetaOff); err != nil {
			return nil, fmt.Errorf("decode beta_off for matchup %d: %w", c.Matchup, err)
		}
		if err := json.Unmarshal([]byte(def), &c.BetaDef); err != nil {
			return nil, fmt.Errorf("decode beta_def for matchup %d: %w", c.Matchup, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
