package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Build statuses. A build row is created before the engine is asked to
// run, so a crash between the two leaves a visible PENDING row instead of
// a silent gap.
const (
	BuildPending   = "PENDING"
	BuildRunning   = "RUNNING"
	BuildCancelled = "CANCELLED"
)

// Reasons recorded when an event produces no build for a manifest.
const (
	ReasonTriggerNotMatch  = "TRIGGER_NOT_MATCH"
	ReasonPipelineDisabled = "PIPELINE_DISABLED"
	ReasonYAMLInvalid      = "YAML_INVALID"
	ReasonPipelineRunError = "PIPELINE_RUN_ERROR"
)

// EventBuild links a trigger event to one engine build. The YAML texts,
// branch and trigger user are captured at creation so the record stays
// readable after the repository moves on.
type EventBuild struct {
	ID             string
	EventID        string
	FilePath       string
	PipelineID     string
	BuildID        string
	Status         string
	OriginYAML     string
	NormalizedYAML string
	Branch         string
	TriggerUser    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventNotBuild records why an event did not produce a build for a
// manifest file. It mirrors the capture fields of EventBuild.
type EventNotBuild struct {
	ID             string
	EventID        string
	FilePath       string
	Reason         string
	Detail         string
	OriginYAML     string
	NormalizedYAML string
	Branch         string
	TriggerUser    string
	CreatedAt      time.Time
}

// CreateBuild inserts a provisional build row, before the engine run is
// requested. PipelineID and BuildID are filled in by BindBuild.
func (s *Store) CreateBuild(ctx context.Context, b *EventBuild) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if b.Status == "" {
		b.Status = BuildPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_builds (id, event_id, file_path, pipeline_id, build_id, status,
			origin_yaml, normalized_yaml, branch, trigger_user, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.EventID, b.FilePath, b.PipelineID, b.BuildID, b.Status,
		b.OriginYAML, b.NormalizedYAML, b.Branch, b.TriggerUser, now, now)
	if err != nil {
		return fmt.Errorf("create build %s: %w", b.ID, err)
	}
	return nil
}

// BindBuild records the engine pipeline and build ids on a provisional row
// and marks it running.
func (s *Store) BindBuild(ctx context.Context, id, pipelineID, buildID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_builds SET pipeline_id = ?, build_id = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		pipelineID, buildID, BuildRunning, now, id)
	if err != nil {
		return fmt.Errorf("bind build %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBuild removes a provisional row after the run failed to start.
func (s *Store) DeleteBuild(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_builds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete build %s: %w", id, err)
	}
	return nil
}

// ListBuildsByEvent returns every build row for an event, oldest first.
func (s *Store) ListBuildsByEvent(ctx context.Context, eventID string) ([]*EventBuild, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, file_path, pipeline_id, build_id, status,
			origin_yaml, normalized_yaml, branch, trigger_user, created_at, updated_at
		FROM event_builds WHERE event_id = ? ORDER BY created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list builds for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []*EventBuild
	for rows.Next() {
		var b EventBuild
		var created, updated string
		if err := rows.Scan(&b.ID, &b.EventID, &b.FilePath, &b.PipelineID,
			&b.BuildID, &b.Status, &b.OriginYAML, &b.NormalizedYAML,
			&b.Branch, &b.TriggerUser, &created, &updated); err != nil {
			return nil, fmt.Errorf("list builds for event %s: %w", eventID, err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// GetBuild loads one build row.
func (s *Store) GetBuild(ctx context.Context, id string) (*EventBuild, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, file_path, pipeline_id, build_id, status,
			origin_yaml, normalized_yaml, branch, trigger_user, created_at, updated_at
		FROM event_builds WHERE id = ?`, id)

	var b EventBuild
	var created, updated string
	err := row.Scan(&b.ID, &b.EventID, &b.FilePath, &b.PipelineID,
		&b.BuildID, &b.Status, &b.OriginYAML, &b.NormalizedYAML,
		&b.Branch, &b.TriggerUser, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &b, nil
}

// SaveNotBuild records a skipped manifest with its reason.
func (s *Store) SaveNotBuild(ctx context.Context, nb *EventNotBuild) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_not_builds (id, event_id, file_path, reason, detail,
			origin_yaml, normalized_yaml, branch, trigger_user, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nb.ID, nb.EventID, nb.FilePath, nb.Reason, nb.Detail,
		nb.OriginYAML, nb.NormalizedYAML, nb.Branch, nb.TriggerUser, now)
	if err != nil {
		return fmt.Errorf("save not-build %s: %w", nb.ID, err)
	}
	return nil
}

// ListNotBuildsByEvent returns skip records for an event, oldest first.
func (s *Store) ListNotBuildsByEvent(ctx context.Context, eventID string) ([]*EventNotBuild, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, file_path, reason, detail,
			origin_yaml, normalized_yaml, branch, trigger_user, created_at
		FROM event_not_builds WHERE event_id = ? ORDER BY created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list not-builds for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []*EventNotBuild
	for rows.Next() {
		var nb EventNotBuild
		var created string
		if err := rows.Scan(&nb.ID, &nb.EventID, &nb.FilePath, &nb.Reason, &nb.Detail,
			&nb.OriginYAML, &nb.NormalizedYAML, &nb.Branch, &nb.TriggerUser, &created); err != nil {
			return nil, fmt.Errorf("list not-builds for event %s: %w", eventID, err)
		}
		nb.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &nb)
	}
	return out, rows.Err()
}
