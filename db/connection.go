// Package db opens and migrates the SQLite databases backing quarry's
// per-branch status ledgers.
package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/meridian-data/quarry/errors"
)

// pragmas applied to every connection. WAL keeps readers unblocked
// while a pass writes; the busy timeout covers checkpoint contention.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Open opens the SQLite database at path, applying the standard
// connection pragmas. A nil logger is accepted and silences debug
// output.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "apply %q", p)
		}
	}
	if logger != nil {
		logger.Debugw("Database opened", "path", path)
	}
	return conn, nil
}
