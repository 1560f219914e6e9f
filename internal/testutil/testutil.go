package testutil

import (
	"context"
	"database/sql"
	"testing"

	"restock-monitor/internal/db"
)

// OpenDB returns an in-memory sqlite database with the schema applied, it is
// closed when the test ends.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := db.Config{File: ":memory:"}.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}
