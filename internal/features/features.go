// Package features imputes and scales raw per-player feature matrices.
//
// Imputation policy: non-finite values (NaN, ±Inf) are replaced by the mean
// of the finite values in the same column. A column with no finite values
// imputes to 0. Every entry point in this repository uses this policy.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/pable/lineup-matchups/internal/model"
)

// Epsilon is the minimum scale used for a column; zero-variance columns are
// divided by it instead of zero.
const Epsilon = 1e-8

var ErrWidthMismatch = errors.New("feature width mismatch")

// Imputation reports how many cells were replaced per column.
type Imputation struct {
	Replaced []int
	Fill     []float64
	Cells    int
}

// Total returns the number of imputed cells.
func (im Imputation) Total() int {
	n := 0
	for _, c := range im.Replaced {
		n += c
	}
	return n
}

// Impute replaces non-finite cells in place with their column mean.
func Impute(rows [][]float64) (Imputation, error) {
	if len(rows) == 0 {
		return Imputation{}, nil
	}
	width := len(rows[0])
	sums := make([]float64, width)
	counts := make([]int, width)
	for i, r := range rows {
		if len(r) != width {
			return Imputation{}, fmt.Errorf("row %d: %w: got %d, want %d", i, ErrWidthMismatch, len(r), width)
		}
		for j, v := range r {
			if finite(v) {
				sums[j] += v
				counts[j]++
			}
		}
	}

	im := Imputation{Replaced: make([]int, width), Fill: make([]float64, width), Cells: len(rows) * width}
	for j := range sums {
		if counts[j] > 0 {
			im.Fill[j] = sums[j] / float64(counts[j])
		}
	}
	for _, r := range rows {
		for j, v := range r {
			if !finite(v) {
				r[j] = im.Fill[j]
				im.Replaced[j]++
			}
		}
	}
	return im, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Scaler is a robust (median / IQR) column scaler. It is fit once on pooled
// data and persisted so later data is transformed identically.
type Scaler struct {
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

// FitOptions controls FitRobust.
type FitOptions struct {
	// MinRowsPerFeature is the minimum rows-to-columns ratio. Zero disables the check.
	MinRowsPerFeature int
	// Table names the input in DataMissingError.
	Table string
}

// FitRobust fits a Scaler on already-imputed rows.
func FitRobust(rows [][]float64, opts FitOptions) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, &model.DataMissingError{Table: opts.Table, Have: 0, Need: 1}
	}
	width := len(rows[0])
	if need := opts.MinRowsPerFeature * width; opts.MinRowsPerFeature > 0 && len(rows) < need {
		return nil, &model.DataMissingError{Table: opts.Table, Have: len(rows), Need: need}
	}

	s := &Scaler{Center: make([]float64, width), Scale: make([]float64, width)}
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, r := range rows {
			if len(r) != width {
				return nil, fmt.Errorf("row %d: %w", i, ErrWidthMismatch)
			}
			if !finite(r[j]) {
				return nil, fmt.Errorf("row %d col %d: non-finite value, impute first", i, j)
			}
			col[i] = r[j]
		}
		med, err := stats.Median(col)
		if err != nil {
			return nil, fmt.Errorf("median col %d: %w", j, err)
		}
		iqr, err := stats.InterQuartileRange(col)
		if err != nil {
			return nil, fmt.Errorf("iqr col %d: %w", j, err)
		}
		if math.IsNaN(iqr) || iqr < Epsilon {
			iqr = Epsilon
		}
		s.Center[j] = med
		s.Scale[j] = iqr
	}
	return s, nil
}

// Width returns the number of columns the scaler was fit on.
func (s *Scaler) Width() int { return len(s.Center) }

// TransformRow returns a scaled copy of one row.
func (s *Scaler) TransformRow(row []float64) ([]float64, error) {
	if len(row) != s.Width() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(row), s.Width())
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Center[j]) / s.Scale[j]
	}
	return out, nil
}

// Transform returns scaled copies of all rows.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		t, err := s.TransformRow(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

// Matrix extracts the value vectors of a feature table, copying each row.
func Matrix(table []model.PlayerSeasonFeatures) [][]float64 {
	out := make([][]float64, len(table))
	for i, r := range table {
		out[i] = append([]float64(nil), r.Values...)
	}
	return out
}

// ImputeWith replaces non-finite cells in place using previously computed
// column means, so future rows are filled with the pooled training means.
func ImputeWith(rows [][]float64, fill []float64) (Imputation, error) {
	im := Imputation{Replaced: make([]int, len(fill)), Fill: fill, Cells: len(rows) * len(fill)}
	for i, r := range rows {
		if len(r) != len(fill) {
			return Imputation{}, fmt.Errorf("row %d: %w: got %d, want %d", i, ErrWidthMismatch, len(r), len(fill))
		}
		for j, v := range r {
			if !finite(v) {
				r[j] = fill[j]
				im.Replaced[j]++
			}
		}
	}
	return im, nil
}
