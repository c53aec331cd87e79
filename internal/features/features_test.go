package features

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/lineup-matchups/internal/model"
)

func TestImpute_ColumnMean(t *testing.T) {
	rows := [][]float64{
		{1, math.NaN(), math.NaN()},
		{3, 4, math.Inf(1)},
		{math.NaN(), 8, math.NaN()},
	}
	im, err := Impute(rows)
	require.NoError(t, err)

	assert.Equal(t, 1.0, rows[0][0], "finite cells untouched")
	assert.Equal(t, 2.0, rows[2][0])
	assert.Equal(t, 6.0, rows[0][1])
	assert.Equal(t, 0.0, rows[1][2], "column with no finite values fills with 0")
	assert.Equal(t, []int{1, 1, 3}, im.Replaced)
	assert.Equal(t, 5, im.Total())
	assert.Equal(t, 9, im.Cells)
}

func TestImpute_WidthMismatch(t *testing.T) {
	_, err := Impute([][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrWidthMismatch)
}

func TestImputeWith(t *testing.T) {
	rows := [][]float64{{math.NaN(), 2}}
	im, err := ImputeWith(rows, []float64{7, 9})
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 2}, rows[0])
	assert.Equal(t, 1, im.Total())
}

func TestFitRobust_MedianIQR(t *testing.T) {
	rows := make([][]float64, 8)
	for i := range rows {
		rows[i] = []float64{float64(i + 1), 5}
	}
	s, err := FitRobust(rows, FitOptions{})
	require.NoError(t, err)

	assert.InDelta(t, 4.5, s.Center[0], 1e-12)
	assert.InDelta(t, 4.0, s.Scale[0], 1e-12)
	assert.Equal(t, 5.0, s.Center[1])
	assert.Equal(t, Epsilon, s.Scale[1], "constant column scales by epsilon")

	got, err := s.TransformRow([]float64{8.5, 5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.Equal(t, 0.0, got[1])
}

func TestFitRobust_TooFewRows(t *testing.T) {
	rows := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	_, err := FitRobust(rows, FitOptions{MinRowsPerFeature: 2, Table: "player_features"})
	var dme *model.DataMissingError
	require.True(t, errors.As(err, &dme))
	assert.Equal(t, "player_features", dme.Table)
	assert.Equal(t, 3, dme.Have)
	assert.Equal(t, 4, dme.Need)
}

func TestFitRobust_RejectsNonFinite(t *testing.T) {
	_, err := FitRobust([][]float64{{1}, {math.NaN()}}, FitOptions{})
	assert.Error(t, err)
}

func TestTransform_WidthMismatch(t *testing.T) {
	s := &Scaler{Center: []float64{0, 0}, Scale: []float64{1, 1}}
	_, err := s.Transform([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrWidthMismatch)
}

func TestMatrix_Copies(t *testing.T) {
	table := []model.PlayerSeasonFeatures{{PlayerID: "a", Values: []float64{1, 2}}}
	m := Matrix(table)
	m[0][0] = 99
	assert.Equal(t, 1.0, table[0].Values[0])
}
