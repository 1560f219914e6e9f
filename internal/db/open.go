package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects the backing store, `file` for a local sqlite database or `url` for a
// remote libsql database (ex. `libsql://monitor.turso.io?authToken=...`).
type Config struct {
	File string `json:"file"`
	Url  string `json:"url"`
}

// Open opens the configured database and applies Schema to it.
func (config Config) Open(ctx context.Context) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch {
	case config.Url != "":
		if !strings.HasPrefix(config.Url, "libsql://") &&
			!strings.HasPrefix(config.Url, "https://") &&
			!strings.HasPrefix(config.Url, "http://") {
			return nil, fmt.Errorf("unsupported database url '%s'", config.Url)
		}
		conn, err = sql.Open("libsql", config.Url)
		if err != nil {
			return nil, err
		}
	case config.File != "":
		conn, err = OpenSqlite(config.File)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("a database file or url was not specified")
	}

	_, err = conn.ExecContext(ctx, Schema)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return conn, nil
}

// OpenSqlite opens a local sqlite database, creating the file when it doesn't exist
// yet. `:memory:` is accepted for tests.
func OpenSqlite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" {
			err := os.MkdirAll(dir, 0755)
			if err != nil {
				return nil, err
			}
		}
		_, statErr := os.Stat(path)
		if os.IsNotExist(statErr) {
			f, err := os.Create(path)
			if err != nil {
				return nil, err
			}
			f.Close()
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite only allows a single writer, a single connection also keeps
	// `:memory:` databases from being split across connections.
	conn.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = conn.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
