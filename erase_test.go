package duradb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ondisk/duradb"
	"github.com/ondisk/duradb/internal/duradbtest"
)

func TestEraseRemovesAllThreeFiles(t *testing.T) {
	fs := duradbtest.NewMemFS()
	mustCreate(t, fs)

	require.NoError(t, duradb.Erase("db.dat", "db.key", "db.log", duradb.WithFS(fs)))

	for _, p := range []string{"db.dat", "db.key", "db.log"} {
		exists, err := fs.Exists(p)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func TestEraseOfMissingFilesIsNotAnError(t *testing.T) {
	fs := duradbtest.NewMemFS()
	require.NoError(t, duradb.Erase("db.dat", "db.key", "db.log", duradb.WithFS(fs)))
}
