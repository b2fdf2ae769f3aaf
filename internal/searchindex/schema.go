package searchindex

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dirs (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER REFERENCES dirs(id),
	name      TEXT NOT NULL,
	UNIQUE(parent_id, name)
);

CREATE TABLE IF NOT EXISTS files (
	dir_id     INTEGER NOT NULL REFERENCES dirs(id),
	name       TEXT NOT NULL,
	name_lower TEXT NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	modified   INTEGER NOT NULL DEFAULT 0,
	is_dir     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (dir_id, name)
);

CREATE INDEX IF NOT EXISTS idx_files_name_lower ON files(name_lower);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// rootDirID is the synthetic id reserved for "/" so every path has an
// ancestor chain terminating in a row, never a NULL parent_id lookup.
const rootDirID int64 = 0
