// Package searchindex maintains one SQLite-backed full-text index per
// driver, keyed by path-prefix-compressed directory rows, built on
// database/sql over mattn/go-sqlite3, the ecosystem's standard pure-cgo
// SQLite driver.
package searchindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
	"github.com/nimbusgate/gateway/pkg/logging"
)

// Record is one entry to index or refresh.
type Record struct {
	Path     string // full virtual-ish path within this driver
	Size     int64
	Modified time.Time
	IsDir    bool
}

// Result is one search hit.
type Result struct {
	Path     string
	Size     int64
	Modified time.Time
	IsDir    bool
}

// Index is a single driver's search database.
type Index struct {
	dbPath string
	db     *sql.DB
	log    *logging.Logger
}

// Open creates or opens the SQLite file at dbPath with WAL journaling and a
// busy timeout, so concurrent scanner writers and search readers don't
// collide.
func Open(dbPath string, log *logging.Logger) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, gwerrors.Fatal("searchindex", "open sqlite database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, gwerrors.Fatal("searchindex", "apply schema", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO dirs (id, parent_id, name) VALUES (?, NULL, '')`, rootDirID); err != nil {
		db.Close()
		return nil, gwerrors.Fatal("searchindex", "seed root dir", err)
	}

	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}
	return &Index{dbPath: dbPath, db: db, log: log.With("searchindex", nil)}, nil
}

// Close releases the database handle without deleting the file.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Delete closes the database and removes its file plus WAL/SHM siblings,
// for when a mount is torn down.
func (idx *Index) Delete() error {
	if err := idx.db.Close(); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(idx.dbPath + suffix)
	}
	return nil
}

// dirIDForPath walks/creates the dirs chain for the directory portion of p,
// interning each path segment exactly once, and returns the leaf dir id.
func (idx *Index) dirIDForPath(ctx context.Context, tx *sql.Tx, dir string) (int64, error) {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "" || dir == "." {
		return rootDirID, nil
	}

	parent := rootDirID
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" {
			continue
		}
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM dirs WHERE parent_id = ? AND name = ?`, parent, seg).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			res, insertErr := tx.ExecContext(ctx, `INSERT INTO dirs (parent_id, name) VALUES (?, ?)`, parent, seg)
			if insertErr != nil {
				return 0, insertErr
			}
			id, err = res.LastInsertId()
			if err != nil {
				return 0, err
			}
		case err != nil:
			return 0, err
		}
		parent = id
	}
	return int64(parent), nil
}

// InsertOrRefresh upserts a batch of records inside one transaction,
// retrying on SQLITE_BUSY up to 3 times with a backoff of 100 ms × attempt.
func (idx *Index) InsertOrRefresh(ctx context.Context, records []Record) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := idx.insertOrRefreshOnce(ctx, records)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyErr(err) {
			return gwerrors.Transient("searchindex", "insert batch failed", err)
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return gwerrors.Transient("searchindex", "insert batch failed after retries", lastErr)
}

func (idx *Index) insertOrRefreshOnce(ctx context.Context, records []Record) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		dirID, err := idx.dirIDForPath(ctx, tx, path.Dir(strings.TrimSuffix(r.Path, "/")))
		if err != nil {
			return err
		}
		name := path.Base(r.Path)
		isDir := 0
		if r.IsDir {
			isDir = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO files (dir_id, name, name_lower, size, modified, is_dir)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(dir_id, name) DO UPDATE SET
				size = excluded.size,
				modified = excluded.modified,
				is_dir = excluded.is_dir
		`, dirID, name, lowerOnly(name), r.Size, r.Modified.Unix(), isDir)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func isBusyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// Search matches query against indexed file and directory names in two
// passes (§4.6): a primary pass against the raw lower-cased query, scoring
// exact matches above prefix matches above substring matches above
// everything else; then, only if the primary pass came up short of limit
// and the query contains a traditional character the table maps, a
// supplementary pass against the simplified form of the query, merged in
// behind the primary results and deduplicated by path. Every raw match
// therefore precedes every match that only succeeds once the query is
// simplified, because the supplementary results are appended after the
// primary ones; scores are only compared within a pass.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 100
	}

	qLower := lowerOnly(query)
	primary, err := idx.searchPass(ctx, qLower, limit, scoreCasePrimary, true)
	if err != nil {
		return nil, err
	}
	if len(primary) >= limit {
		return primary, nil
	}

	qSimpl := simplify(qLower)
	if qSimpl == qLower {
		return primary, nil
	}

	supplementary, err := idx.searchPass(ctx, qSimpl, limit-len(primary), scoreCaseSupplementary, false)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(primary))
	for _, r := range primary {
		seen[r.Path] = true
	}
	out := primary
	for _, r := range supplementary {
		if seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		out = append(out, r)
	}
	return out, nil
}

// scoreCasePrimary implements the primary pass's exact(100)/prefix(80)/
// substring(60)/else(30) ranking, expressed as a SQL CASE so ordering
// happens in the query.
const scoreCasePrimary = `
	CASE
		WHEN f.name_lower = ? THEN 100
		WHEN f.name_lower LIKE ? || '%' THEN 80
		WHEN f.name_lower LIKE '%' || ? || '%' THEN 60
		ELSE 30
	END`

// scoreCaseSupplementary ranks the supplementary pass: exact(95)/prefix(75)/
// else(25), each one below the matching primary tier. It orders hits within
// that pass only; Search places all of them after the primary hits.
const scoreCaseSupplementary = `
	CASE
		WHEN f.name_lower = ? THEN 95
		WHEN f.name_lower LIKE ? || '%' THEN 75
		ELSE 25
	END`

func (idx *Index) searchPass(ctx context.Context, q string, limit int, scoreCase string, primaryTiers bool) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}

	// scoreCasePrimary has one extra "? LIKE '%' || ? || '%'" substring tier
	// that scoreCaseSupplementary doesn't.
	params := []interface{}{q, q}
	if primaryTiers {
		params = append(params, q)
	}
	params = append(params, q, limit)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT f.name, f.size, f.modified, f.is_dir, d.id, `+scoreCase+` AS score
		FROM files f
		JOIN dirs d ON d.id = f.dir_id
		WHERE f.name_lower LIKE '%' || ? || '%'
		ORDER BY score DESC, length(f.name) ASC
		LIMIT ?
	`, params...)
	if err != nil {
		return nil, gwerrors.Transient("searchindex", "search query failed", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var name string
		var size, modified, isDir, dirID, score int64
		if err := rows.Scan(&name, &size, &modified, &isDir, &dirID, &score); err != nil {
			return nil, err
		}
		dirPath, err := idx.pathForDirID(ctx, dirID)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{
			Path:     path.Join(dirPath, name),
			Size:     size,
			Modified: time.Unix(modified, 0).UTC(),
			IsDir:    isDir == 1,
		})
	}

	return out, rows.Err()
}

func (idx *Index) pathForDirID(ctx context.Context, id int64) (string, error) {
	var segs []string
	for id != rootDirID {
		var name string
		var parent int64
		err := idx.db.QueryRowContext(ctx, `SELECT name, parent_id FROM dirs WHERE id = ?`, id).Scan(&name, &parent)
		if err != nil {
			return "", err
		}
		segs = append([]string{name}, segs...)
		id = parent
	}
	return "/" + strings.Join(segs, "/"), nil
}

// Stats summarizes the index's current contents.
type Stats struct {
	FileCount   int64
	DirCount    int64
	LastUpdated time.Time // zero if no scan has completed yet
}

// SetLastUpdated records the Unix timestamp of a just-completed scan into
// the meta table, for Stats to report.
func (idx *Index) SetLastUpdated(ctx context.Context, when time.Time) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('last_updated', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, when.Unix())
	return err
}

// Stats returns file count, directory count (excluding the synthetic root),
// and the last scan's timestamp.
func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE is_dir = 0`)
	if err := row.Scan(&st.FileCount); err != nil {
		return Stats{}, err
	}
	row = idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirs WHERE id != ?`, rootDirID)
	if err := row.Scan(&st.DirCount); err != nil {
		return Stats{}, err
	}

	var raw sql.NullInt64
	row = idx.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'last_updated'`)
	if err := row.Scan(&raw); err != nil && err != sql.ErrNoRows {
		return Stats{}, err
	}
	if raw.Valid {
		st.LastUpdated = time.Unix(raw.Int64, 0).UTC()
	}
	return st, nil
}

// Remove deletes the file/dir row at p.
func (idx *Index) Remove(ctx context.Context, p string) error {
	dir := path.Dir(strings.TrimSuffix(p, "/"))
	name := path.Base(p)

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dirID, err := idx.dirIDForPath(ctx, tx, dir)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE dir_id = ? AND name = ?`, dirID, name); err != nil {
		return err
	}
	return tx.Commit()
}

// EntriesFromGateway adapts listing entries into search records, for
// callers that already have gwtypes.Entry values from a driver List.
func EntriesFromGateway(dirPath string, entries []gwtypes.Entry) []Record {
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		var modified time.Time
		if e.Modified != nil {
			modified = *e.Modified
		}
		records = append(records, Record{
			Path:     path.Join(dirPath, e.Name),
			Size:     e.Size,
			Modified: modified,
			IsDir:    e.IsDir,
		})
	}
	return records
}
