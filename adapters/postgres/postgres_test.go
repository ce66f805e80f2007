package postgres

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// openDB opens a file-backed sqlite database; in-memory databases are per
// connection and the sources keep a cursor open beside other queries.
func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "mmd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(context.Background()))
	return db
}

func seedTable(t *testing.T, db *sqlx.DB, table string, n int) {
	t.Helper()
	db.MustExec(`CREATE TABLE ` + table + ` (id INTEGER PRIMARY KEY, x REAL, y REAL)`)
	for i := 0; i < n; i++ {
		db.MustExec(`INSERT INTO `+table+` (id, x, y) VALUES (?, ?, ?)`, i+1, float64(i), float64(i)/2)
	}
}
