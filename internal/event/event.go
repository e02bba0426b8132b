// Package event models one incoming trigger occurrence: a Git webhook
// (push, tag push, merge request) or a manual run. Events are immutable
// once persisted and form the audit trail of every build attempt.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ObjectKind discriminates the trigger origin.
type ObjectKind string

const (
	KindPush         ObjectKind = "push"
	KindTagPush      ObjectKind = "tag_push"
	KindMergeRequest ObjectKind = "merge_request"
	KindManual       ObjectKind = "manual"
)

// RequestEvent is one incoming webhook or manual trigger occurrence.
type RequestEvent struct {
	ID             string
	GitProjectID   int64
	ObjectKind     ObjectKind
	Branch         string
	CommitID       string
	CommitMessage  string
	UserID         string
	MergeRequestID *int64
	TargetBranch   string
	SourceBranch   string
	SourceURL      string
	TargetURL      string
	RepoURL        string
	ChangedFiles   []string
	RawPayload     string
	CreatedAt      time.Time
}

// Ref returns the short ref name the event concerns. Branch carries the
// trimmed ref for every kind, tag pushes included.
func (e *RequestEvent) Ref() string {
	return e.Branch
}

// ShortSHA returns the abbreviated commit id used in parameters and UI.
func (e *RequestEvent) ShortSHA() string {
	if len(e.CommitID) > 8 {
		return e.CommitID[:8]
	}
	return e.CommitID
}

// webhook payload shapes, GitLab-style.
type pushPayload struct {
	ObjectKind  string `json:"object_kind"`
	Ref         string `json:"ref"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	UserName    string `json:"user_username"`
	Project     struct {
		ID      int64  `json:"id"`
		HTTPURL string `json:"http_url"`
	} `json:"project"`
	Commits []struct {
		ID       string   `json:"id"`
		Message  string   `json:"message"`
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

type mergeRequestPayload struct {
	ObjectKind string `json:"object_kind"`
	User       struct {
		Username string `json:"username"`
	} `json:"user"`
	Project struct {
		ID      int64  `json:"id"`
		HTTPURL string `json:"http_url"`
	} `json:"project"`
	ObjectAttributes struct {
		IID          int64  `json:"iid"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
		LastCommit   struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		} `json:"last_commit"`
		Source struct {
			HTTPURL string `json:"http_url"`
		} `json:"source"`
		Target struct {
			HTTPURL string `json:"http_url"`
		} `json:"target"`
	} `json:"object_attributes"`
}

// ParseWebhook decodes a raw provider payload into a RequestEvent. The
// caller assigns the event id and persists it; this function never mutates
// stored state.
func ParseWebhook(body []byte) (*RequestEvent, error) {
	var probe struct {
		ObjectKind string `json:"object_kind"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	switch ObjectKind(probe.ObjectKind) {
	case KindPush, KindTagPush:
		return parsePush(body, ObjectKind(probe.ObjectKind))
	case KindMergeRequest:
		return parseMergeRequest(body)
	default:
		return nil, fmt.Errorf("unsupported object_kind %q", probe.ObjectKind)
	}
}

func parsePush(body []byte, kind ObjectKind) (*RequestEvent, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if p.Project.ID == 0 {
		return nil, fmt.Errorf("%s payload missing project id", kind)
	}

	ev := &RequestEvent{
		GitProjectID: p.Project.ID,
		ObjectKind:   kind,
		Branch:       trimRefPrefix(p.Ref),
		CommitID:     p.After,
		UserID:       p.UserName,
		RepoURL:      p.Project.HTTPURL,
		RawPayload:   string(body),
		CreatedAt:    time.Now().UTC(),
	}
	if ev.CommitID == "" {
		ev.CommitID = p.CheckoutSHA
	}
	for _, c := range p.Commits {
		if c.ID == ev.CommitID {
			ev.CommitMessage = c.Message
		}
		ev.ChangedFiles = append(ev.ChangedFiles, c.Added...)
		ev.ChangedFiles = append(ev.ChangedFiles, c.Modified...)
		ev.ChangedFiles = append(ev.ChangedFiles, c.Removed...)
	}
	return ev, nil
}

func parseMergeRequest(body []byte) (*RequestEvent, error) {
	var p mergeRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode merge_request payload: %w", err)
	}
	if p.Project.ID == 0 {
		return nil, fmt.Errorf("merge_request payload missing project id")
	}

	mrID := p.ObjectAttributes.IID
	return &RequestEvent{
		GitProjectID:   p.Project.ID,
		ObjectKind:     KindMergeRequest,
		Branch:         p.ObjectAttributes.SourceBranch,
		CommitID:       p.ObjectAttributes.LastCommit.ID,
		CommitMessage:  p.ObjectAttributes.LastCommit.Message,
		UserID:         p.User.Username,
		MergeRequestID: &mrID,
		TargetBranch:   p.ObjectAttributes.TargetBranch,
		SourceBranch:   p.ObjectAttributes.SourceBranch,
		SourceURL:      p.ObjectAttributes.Source.HTTPURL,
		TargetURL:      p.ObjectAttributes.Target.HTTPURL,
		RepoURL:        p.Project.HTTPURL,
		RawPayload:     string(body),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Manual builds the event for a user-initiated run.
func Manual(gitProjectID int64, userID, branch string) *RequestEvent {
	return &RequestEvent{
		GitProjectID: gitProjectID,
		ObjectKind:   KindManual,
		Branch:       branch,
		UserID:       userID,
		CreatedAt:    time.Now().UTC(),
	}
}

func trimRefPrefix(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "refs/tags/")
	return ref
}
