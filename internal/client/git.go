package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/streamci/streamci/internal/config"
	"github.com/streamci/streamci/internal/orchestrator"
	"github.com/streamci/streamci/internal/webhook"
)

// Git talks to the source-control service. It implements
// orchestrator.GitService, compiler.TokenResolver and
// webhook.ManifestSource.
type Git struct {
	baseURL string
	hc      *http.Client
}

func NewGit(cfg config.GitConfig) *Git {
	return &Git{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &authTransport{token: cfg.Token, base: http.DefaultTransport},
		},
	}
}

// authTransport attaches the service token to every request.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func (g *Git) projectURL(gitProjectID int64, parts ...string) string {
	u := g.baseURL + "/api/projects/" + strconv.FormatInt(gitProjectID, 10)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// GetToken fetches the OAuth token embedded into self-checkout steps.
func (g *Git) GetToken(ctx context.Context, gitProjectID int64) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	if err := doJSON(ctx, g.hc, http.MethodGet, g.projectURL(gitProjectID, "oauth-token"), nil, &data); err != nil {
		return "", fmt.Errorf("get oauth token: %w", err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("get oauth token: empty token for project %d", gitProjectID)
	}
	return data.Token, nil
}

// PushCommitCheck reports build status against a commit or merge request.
func (g *Git) PushCommitCheck(ctx context.Context, check orchestrator.CommitCheck) error {
	u := g.projectURL(check.GitProjectID, "commit-checks")
	if err := doJSON(ctx, g.hc, http.MethodPost, u, check, nil); err != nil {
		return fmt.Errorf("push commit check: %w", err)
	}
	return nil
}

// Fetch lists the pipeline manifest files of a project at the given ref.
func (g *Git) Fetch(ctx context.Context, gitProjectID int64, ref string) ([]webhook.ManifestFile, error) {
	var data struct {
		Files []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	u := g.projectURL(gitProjectID, "manifests") + "?ref=" + url.QueryEscape(ref)
	if err := doJSON(ctx, g.hc, http.MethodGet, u, nil, &data); err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	files := make([]webhook.ManifestFile, 0, len(data.Files))
	for _, f := range data.Files {
		files = append(files, webhook.ManifestFile{Path: f.Path, Content: f.Content})
	}
	return files, nil
}
