package status

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-data/quarry/db"
	"github.com/meridian-data/quarry/errors"
)

// DB is the per-branch status database. It is a process-local,
// single-writer structure; runs are single-threaded by design.
type DB struct {
	conn   *sql.DB
	branch string
	pass   int64
	logger *zap.SugaredLogger
}

// Open opens (creating and migrating if needed) the status database for
// one branch under dir, typically <repo>/.git/quarry. Every Open starts
// a new pass: paths not touched before Close are reported by Obsolete.
func Open(dir, branch string, logger *zap.SugaredLogger) (*DB, error) {
	if branch == "" {
		return nil, errors.New("status database requires a branch name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create status directory")
	}

	path := filepath.Join(dir, "status-"+sanitizeBranch(branch)+".db")
	conn, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, err
	}

	var last sql.NullInt64
	if err := conn.QueryRow("SELECT MAX(last_seen) FROM paths").Scan(&last); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "read pass counter")
	}

	return &DB{
		conn:   conn,
		branch: branch,
		pass:   last.Int64 + 1,
		logger: logger,
	}, nil
}

// sanitizeBranch maps a branch name to a filesystem-safe file stem.
func sanitizeBranch(branch string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(branch)
}

// Branch returns the branch this instance is valid for.
func (d *DB) Branch() string {
	return d.branch
}

// Get returns the stored record and source URL for a path.
func (d *DB) Get(path string) (Record, string, bool, error) {
	var (
		size  int64
		mtime int64
		fname string
		url   string
	)
	err := d.conn.QueryRow(
		"SELECT size, mtime, filename, url FROM paths WHERE path = ?", path,
	).Scan(&size, &mtime, &fname, &url)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, "", false, nil
	}
	if err != nil {
		return Record{}, "", false, errors.Wrapf(err, "get status for %s", path)
	}
	rec := Record{Size: size, Filename: fname}
	if mtime != 0 {
		rec.MTime = time.Unix(mtime, 0)
	}
	return rec, url, true, nil
}

// Set records the last-seen status for a path and marks it touched in
// the current pass.
func (d *DB) Set(path string, rec Record, url string) error {
	var mtime int64
	if !rec.MTime.IsZero() {
		mtime = rec.MTime.Unix()
	}
	_, err := d.conn.Exec(`
		INSERT INTO paths (path, size, mtime, filename, url, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			filename = excluded.filename,
			url = excluded.url,
			last_seen = excluded.last_seen`,
		path, rec.Size, mtime, rec.Filename, url, d.pass)
	return errors.Wrapf(err, "set status for %s", path)
}

// Touch marks a path as seen in the current pass without changing its
// stored record. Skipped-but-still-present items call this so they do
// not show up as obsolete.
func (d *DB) Touch(path string) error {
	_, err := d.conn.Exec("UPDATE paths SET last_seen = ? WHERE path = ?", d.pass, path)
	return errors.Wrapf(err, "touch %s", path)
}

// IsDifferent reports whether the candidate status differs from the
// stored one for path. Unknown paths are always different. An empty
// candidate filename or a negative candidate size is treated as "not
// reported" and ignored, so servers that omit Content-Length do not
// force a re-fetch on every pass; a changed source URL counts as
// different when both sides carry one.
func (d *DB) IsDifferent(path string, candidate Record, url string) (bool, error) {
	stored, storedURL, ok, err := d.Get(path)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if url != "" && storedURL != "" && url != storedURL {
		return true, nil
	}
	cmp := candidate
	if cmp.Filename == "" {
		cmp.Filename = stored.Filename
	}
	if cmp.Size < 0 {
		cmp.Size = stored.Size
	}
	return !stored.Equal(cmp), nil
}

// Obsolete returns paths present in the database but not touched in the
// current pass: items that disappeared from the source.
func (d *DB) Obsolete() ([]string, error) {
	rows, err := d.conn.Query("SELECT path FROM paths WHERE last_seen < ? ORDER BY path", d.pass)
	if err != nil {
		return nil, errors.Wrap(err, "query obsolete paths")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scan obsolete path")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Remove drops a path from the database.
func (d *DB) Remove(path string) error {
	_, err := d.conn.Exec("DELETE FROM paths WHERE path = ?", path)
	return errors.Wrapf(err, "remove %s", path)
}

// Reset drops all recorded state so every item looks changed on the
// next pass.
func (d *DB) Reset() error {
	_, err := d.conn.Exec("DELETE FROM paths")
	return errors.Wrap(err, "reset status database")
}

// Save flushes pending WAL state to the main database file.
func (d *DB) Save() error {
	_, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return errors.Wrap(err, "checkpoint status database")
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	if err := d.Save(); err != nil {
		if d.logger != nil {
			d.logger.Warnw("Failed to checkpoint status database on close",
				"branch", d.branch, "error", err)
		}
	}
	return d.conn.Close()
}
