package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("store: not found")

// Pipeline is the persisted binding between a manifest file in a Git
// project and the engine pipeline compiled from it. PipelineID is empty
// until the first successful bind.
type Pipeline struct {
	GitProjectID  int64
	FilePath      string
	PipelineID    string
	DisplayName   string
	Enabled       bool
	Fingerprint   string
	LatestBuildID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Bound reports whether an engine pipeline has been created for this file.
func (p *Pipeline) Bound() bool {
	return p.PipelineID != ""
}

// GetPipeline loads the binding for one manifest file.
func (s *Store) GetPipeline(ctx context.Context, gitProjectID int64, filePath string) (*Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT git_project_id, file_path, pipeline_id, display_name, enabled,
		       fingerprint, latest_build_id, created_at, updated_at
		FROM pipelines WHERE git_project_id = ? AND file_path = ?`,
		gitProjectID, filePath)

	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline %d/%s: %w", gitProjectID, filePath, err)
	}
	return p, nil
}

// ListPipelines returns all bindings for a project ordered by file path.
func (s *Store) ListPipelines(ctx context.Context, gitProjectID int64) ([]*Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT git_project_id, file_path, pipeline_id, display_name, enabled,
		       fingerprint, latest_build_id, created_at, updated_at
		FROM pipelines WHERE git_project_id = ? ORDER BY file_path`,
		gitProjectID)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("list pipelines: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePipeline inserts or updates the binding row.
func (s *Store) SavePipeline(ctx context.Context, p *Pipeline) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var latest sql.NullString
	if p.LatestBuildID != "" {
		latest = sql.NullString{String: p.LatestBuildID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipelines
			(git_project_id, file_path, pipeline_id, display_name, enabled,
			 fingerprint, latest_build_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (git_project_id, file_path) DO UPDATE SET
			pipeline_id = excluded.pipeline_id,
			display_name = excluded.display_name,
			enabled = excluded.enabled,
			fingerprint = excluded.fingerprint,
			latest_build_id = excluded.latest_build_id,
			updated_at = excluded.updated_at`,
		p.GitProjectID, p.FilePath, p.PipelineID, p.DisplayName, p.Enabled,
		p.Fingerprint, latest, now, now)
	if err != nil {
		return fmt.Errorf("save pipeline %d/%s: %w", p.GitProjectID, p.FilePath, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row rowScanner) (*Pipeline, error) {
	var (
		p       Pipeline
		latest  sql.NullString
		created string
		updated string
	)
	err := row.Scan(&p.GitProjectID, &p.FilePath, &p.PipelineID, &p.DisplayName,
		&p.Enabled, &p.Fingerprint, &latest, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.LatestBuildID = latest.String
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &p, nil
}
