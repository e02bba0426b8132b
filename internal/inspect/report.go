// Package inspect renders trigger-decision reports: for one webhook event,
// which manifest files produced builds and which were skipped, and why.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/streamci/streamci/internal/store"
)

// Report is the structured JSON representation of an event report.
type Report struct {
	EventID      string     `json:"event_id"`
	ObjectKind   string     `json:"object_kind"`
	GitProjectID int64      `json:"git_project_id"`
	Branch       string     `json:"branch"`
	CommitID     string     `json:"commit_id,omitempty"`
	UserID       string     `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	Builds       []BuildRow `json:"builds"`
	Skipped      []SkipRow  `json:"skipped"`
}

// BuildRow is one manifest file that produced (or attempted) a build.
type BuildRow struct {
	FilePath   string `json:"file_path"`
	PipelineID string `json:"pipeline_id,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	Status     string `json:"status"`
}

// SkipRow is one manifest file that was evaluated but did not build.
type SkipRow struct {
	FilePath string `json:"file_path"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// BuildReport renders a terminal-friendly report for an event.
func BuildReport(ctx context.Context, st *store.Store, eventID string) (string, error) {
	report, err := gather(ctx, st, eventID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Trigger Report\n")
	fmt.Fprintf(&out, "Event ID   : %s\n", report.EventID)
	fmt.Fprintf(&out, "Kind       : %s\n", report.ObjectKind)
	fmt.Fprintf(&out, "Project    : %d\n", report.GitProjectID)
	fmt.Fprintf(&out, "Branch     : %s\n", renderUnset(report.Branch, "<none>"))
	fmt.Fprintf(&out, "Commit     : %s\n", renderUnset(report.CommitID, "<none>"))
	fmt.Fprintf(&out, "Actor      : %s\n", report.UserID)
	fmt.Fprintf(&out, "Received   : %s\n", report.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "\n")

	if len(report.Builds) == 0 && len(report.Skipped) == 0 {
		fmt.Fprintf(&out, "No manifest files were evaluated for this event.\n")
		return out.String(), nil
	}

	for _, b := range report.Builds {
		fmt.Fprintf(&out, "BUILD %s\n", b.FilePath)
		fmt.Fprintf(&out, "    pipeline : %s\n", renderUnset(b.PipelineID, "<unbound>"))
		fmt.Fprintf(&out, "    build    : %s\n", renderUnset(b.BuildID, "<not started>"))
		fmt.Fprintf(&out, "    status   : %s\n", b.Status)
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(&out, "SKIP  %s\n", s.FilePath)
		fmt.Fprintf(&out, "    reason   : %s\n", s.Reason)
		if s.Detail != "" {
			fmt.Fprintf(&out, "    detail   : %s\n", s.Detail)
		}
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, st *store.Store, eventID string) (string, error) {
	report, err := gather(ctx, st, eventID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gather(ctx context.Context, st *store.Store, eventID string) (*Report, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	ev, err := st.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %q: %w", eventID, err)
	}

	report := &Report{
		EventID:      ev.ID,
		ObjectKind:   string(ev.ObjectKind),
		GitProjectID: ev.GitProjectID,
		Branch:       ev.Branch,
		CommitID:     ev.CommitID,
		UserID:       ev.UserID,
		CreatedAt:    ev.CreatedAt,
		Builds:       make([]BuildRow, 0),
		Skipped:      make([]SkipRow, 0),
	}

	builds, err := st.ListBuildsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load builds: %w", err)
	}
	for _, b := range builds {
		report.Builds = append(report.Builds, BuildRow{
			FilePath:   b.FilePath,
			PipelineID: b.PipelineID,
			BuildID:    b.BuildID,
			Status:     b.Status,
		})
	}

	skips, err := st.ListNotBuildsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load skip records: %w", err)
	}
	for _, s := range skips {
		report.Skipped = append(report.Skipped, SkipRow{
			FilePath: s.FilePath,
			Reason:   s.Reason,
			Detail:   s.Detail,
		})
	}

	return report, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
