package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/lineup-matchups/internal/model"
	"github.com/pable/lineup-matchups/internal/storage"
)

func TestDrop(t *testing.T) {
	dbFile := fitEnv(t)
	db, err := storage.Open(dbFile)
	require.NoError(t, err)
	require.NoError(t, db.ReplaceSkills([]model.SkillRating{{PlayerID: "p1", Season: "s1", Offensive: 1, Defensive: 1}}))
	require.NoError(t, db.Close())

	count := func(load func(*storage.DB) int) int {
		db, err := storage.Open(dbFile)
		require.NoError(t, err)
		defer db.Close()
		return load(db)
	}
	trainingRows := func(db *storage.DB) int {
		rows, err := db.LoadTrainingRows()
		require.NoError(t, err)
		return len(rows)
	}
	skills := func(db *storage.DB) int {
		s, err := db.LoadSkills()
		require.NoError(t, err)
		return len(s)
	}

	// Without --force nothing is touched.
	require.NoError(t, execute(t, "drop", "--derived", "--force=false"))
	assert.Equal(t, 300, count(trainingRows))

	require.NoError(t, execute(t, "drop", "--derived", "--force"))
	assert.Zero(t, count(trainingRows))
	assert.Equal(t, 1, count(skills), "imported inputs are kept")

	require.NoError(t, execute(t, "drop", "--derived=false", "--force"))
	_, err = os.Stat(dbFile)
	assert.True(t, os.IsNotExist(err), "database file should be gone, stat err %v", err)

	// Dropping a missing database is not an error.
	require.NoError(t, execute(t, "drop", "--derived=false", "--force"))
}
