package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamci/streamci/internal/config"
	"github.com/streamci/streamci/internal/model"
	"github.com/streamci/streamci/internal/orchestrator"
)

func okEnvelope(data any) []byte {
	raw, _ := json.Marshal(map[string]any{"status": 0, "data": data})
	return raw
}

func TestEngineCreateAndStartBuild(t *testing.T) {
	var gotPath string
	var gotModel model.Model

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/projects/git_42/pipelines":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotModel))
			w.Write(okEnvelope(map[string]string{"pipelineId": "p-7"}))
		case r.Method == http.MethodPost && r.URL.Path == "/api/projects/git_42/pipelines/p-7/builds":
			w.Write(okEnvelope(map[string]string{"buildId": "b-9"}))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	e := NewEngine(config.EngineConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
	ctx := context.Background()

	m := &model.Model{Name: "demo"}
	id, err := e.Create(ctx, "alice", "git_42", m, "GIT")
	require.NoError(t, err)
	assert.Equal(t, "p-7", id)
	assert.Equal(t, "demo", gotModel.Name)

	buildID, err := e.StartBuild(ctx, "alice", "git_42", "p-7", []model.Param{{Key: "k", Value: "v"}}, "GIT")
	require.NoError(t, err)
	assert.Equal(t, "b-9", buildID)
	assert.Equal(t, "/api/projects/git_42/pipelines/p-7/builds", gotPath)
}

func TestEngineGetTreatsApplicationErrorAsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 2101, "message": "pipeline not exists"}`))
	}))
	defer ts.Close()

	e := NewEngine(config.EngineConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
	err := e.Get(context.Background(), "alice", "git_42", "p-gone", "GIT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline not exists")
}

func TestEngineGetTreatsHTTPErrorAsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()

	e := NewEngine(config.EngineConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
	err := e.Get(context.Background(), "alice", "git_42", "p-gone", "GIT")
	require.Error(t, err)
}

func TestGitTokenAndManifests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/projects/42/oauth-token":
			w.Write(okEnvelope(map[string]string{"token": "oauth"}))
		case "/api/projects/42/manifests":
			assert.Equal(t, "main", r.URL.Query().Get("ref"))
			w.Write(okEnvelope(map[string]any{"files": []map[string]string{
				{"path": ".ci/build.yml", "content": "version: v2.0"},
			}}))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	g := NewGit(config.GitConfig{BaseURL: ts.URL, Token: "svc-token", Timeout: 5 * time.Second})
	ctx := context.Background()

	token, err := g.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "oauth", token)

	files, err := g.Fetch(ctx, 42, "main")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".ci/build.yml", files[0].Path)
}

func TestGitPushCommitCheck(t *testing.T) {
	var got orchestrator.CommitCheck
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/projects/42/commit-checks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(okEnvelope(nil))
	}))
	defer ts.Close()

	g := NewGit(config.GitConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
	err := g.PushCommitCheck(context.Background(), orchestrator.CommitCheck{
		GitProjectID: 42, CommitID: "deadbeef", State: orchestrator.CommitCheckPending,
	})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got.CommitID)
}

func TestRegistryInstallAtom(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/atoms/codecov/install", r.URL.Path)
		var body struct {
			UserID       string   `json:"userId"`
			ProjectCodes []string `json:"projectCodes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"git_42"}, body.ProjectCodes)
		w.Write(okEnvelope(nil))
	}))
	defer ts.Close()

	r := NewRegistry(config.RegistryConfig{BaseURL: ts.URL, Timeout: 5 * time.Second})
	require.NoError(t, r.InstallAtom(context.Background(), "alice", "git_42", "codecov"))
}
