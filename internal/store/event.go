package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streamci/streamci/internal/event"
)

// SaveEvent persists a trigger event. Events are append-only.
func (s *Store) SaveEvent(ctx context.Context, ev *event.RequestEvent) error {
	changed, err := json.Marshal(ev.ChangedFiles)
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	var mrID sql.NullInt64
	if ev.MergeRequestID != nil {
		mrID = sql.NullInt64{Int64: *ev.MergeRequestID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_events
			(id, git_project_id, object_kind, branch, commit_id, commit_message,
			 user_id, merge_request_id, target_branch, source_branch,
			 source_url, target_url, repo_url, changed_files, raw_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.GitProjectID, string(ev.ObjectKind), ev.Branch, ev.CommitID,
		ev.CommitMessage, ev.UserID, mrID, ev.TargetBranch, ev.SourceBranch,
		ev.SourceURL, ev.TargetURL, ev.RepoURL, string(changed), ev.RawPayload,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEvent loads one trigger event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*event.RequestEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, git_project_id, object_kind, branch, commit_id, commit_message,
		       user_id, merge_request_id, target_branch, source_branch,
		       source_url, target_url, repo_url, changed_files, raw_payload, created_at
		FROM request_events WHERE id = ?`, id)

	var (
		ev      event.RequestEvent
		kind    string
		mrID    sql.NullInt64
		changed string
		created string
	)
	err := row.Scan(&ev.ID, &ev.GitProjectID, &kind, &ev.Branch, &ev.CommitID,
		&ev.CommitMessage, &ev.UserID, &mrID, &ev.TargetBranch, &ev.SourceBranch,
		&ev.SourceURL, &ev.TargetURL, &ev.RepoURL, &changed, &ev.RawPayload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}

	ev.ObjectKind = event.ObjectKind(kind)
	if mrID.Valid {
		ev.MergeRequestID = &mrID.Int64
	}
	if err := json.Unmarshal([]byte(changed), &ev.ChangedFiles); err != nil {
		return nil, fmt.Errorf("get event %s: decode changed files: %w", id, err)
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &ev, nil
}
