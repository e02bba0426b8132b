// Package store persists the binding between repository manifests and
// engine pipelines, plus the audit trail of trigger events and their
// build or not-build outcomes. Backed by sqlite.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipelines (
	git_project_id INTEGER NOT NULL,
	file_path      TEXT NOT NULL,
	pipeline_id    TEXT NOT NULL DEFAULT '',
	display_name   TEXT NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 1,
	fingerprint    TEXT NOT NULL DEFAULT '',
	latest_build_id TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (git_project_id, file_path)
);

CREATE TABLE IF NOT EXISTS request_events (
	id              TEXT PRIMARY KEY,
	git_project_id  INTEGER NOT NULL,
	object_kind     TEXT NOT NULL,
	branch          TEXT NOT NULL DEFAULT '',
	commit_id       TEXT NOT NULL DEFAULT '',
	commit_message  TEXT NOT NULL DEFAULT '',
	user_id         TEXT NOT NULL DEFAULT '',
	merge_request_id INTEGER,
	target_branch   TEXT NOT NULL DEFAULT '',
	source_branch   TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	target_url      TEXT NOT NULL DEFAULT '',
	repo_url        TEXT NOT NULL DEFAULT '',
	changed_files   TEXT NOT NULL DEFAULT '[]',
	raw_payload     TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_events_project
	ON request_events (git_project_id, created_at);

CREATE TABLE IF NOT EXISTS event_builds (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL REFERENCES request_events(id),
	file_path       TEXT NOT NULL,
	pipeline_id     TEXT NOT NULL DEFAULT '',
	build_id        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'PENDING',
	origin_yaml     TEXT NOT NULL DEFAULT '',
	normalized_yaml TEXT NOT NULL DEFAULT '',
	branch          TEXT NOT NULL DEFAULT '',
	trigger_user    TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_builds_event ON event_builds (event_id);

CREATE TABLE IF NOT EXISTS event_not_builds (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL REFERENCES request_events(id),
	file_path       TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL,
	detail          TEXT NOT NULL DEFAULT '',
	origin_yaml     TEXT NOT NULL DEFAULT '',
	normalized_yaml TEXT NOT NULL DEFAULT '',
	branch          TEXT NOT NULL DEFAULT '',
	trigger_user    TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_not_builds_event ON event_not_builds (event_id);
`

// Store wraps the sqlite handle shared by the DAO methods.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
