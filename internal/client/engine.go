package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/streamci/streamci/internal/config"
	"github.com/streamci/streamci/internal/model"
)

// Engine talks to the external pipeline engine. It implements
// orchestrator.PipelineEngine.
type Engine struct {
	baseURL string
	hc      *http.Client
}

func NewEngine(cfg config.EngineConfig) *Engine {
	return &Engine{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc:      &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *Engine) pipelinesURL(projectCode, userID, channel string, parts ...string) string {
	u := e.baseURL + "/api/projects/" + url.PathEscape(projectCode) + "/pipelines"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	q := url.Values{"userId": {userID}, "channel": {channel}}
	return u + "?" + q.Encode()
}

func (e *Engine) Create(ctx context.Context, userID, projectCode string, m *model.Model, channel string) (string, error) {
	var data struct {
		PipelineID string `json:"pipelineId"`
	}
	u := e.pipelinesURL(projectCode, userID, channel)
	if err := doJSON(ctx, e.hc, http.MethodPost, u, m, &data); err != nil {
		return "", fmt.Errorf("create pipeline: %w", err)
	}
	if data.PipelineID == "" {
		return "", fmt.Errorf("create pipeline: engine returned no pipeline id")
	}
	return data.PipelineID, nil
}

func (e *Engine) Edit(ctx context.Context, userID, projectCode, pipelineID string, m *model.Model, channel string) error {
	u := e.pipelinesURL(projectCode, userID, channel, pipelineID)
	if err := doJSON(ctx, e.hc, http.MethodPut, u, m, nil); err != nil {
		return fmt.Errorf("edit pipeline: %w", err)
	}
	return nil
}

func (e *Engine) Get(ctx context.Context, userID, projectCode, pipelineID, channel string) error {
	u := e.pipelinesURL(projectCode, userID, channel, pipelineID)
	if err := doJSON(ctx, e.hc, http.MethodGet, u, nil, nil); err != nil {
		return fmt.Errorf("get pipeline: %w", err)
	}
	return nil
}

func (e *Engine) Delete(ctx context.Context, userID, projectCode, pipelineID, channel string) error {
	u := e.pipelinesURL(projectCode, userID, channel, pipelineID)
	if err := doJSON(ctx, e.hc, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	return nil
}

func (e *Engine) StartBuild(ctx context.Context, userID, projectCode, pipelineID string, params []model.Param, channel string) (string, error) {
	var data struct {
		BuildID string `json:"buildId"`
	}
	u := e.pipelinesURL(projectCode, userID, channel, pipelineID, "builds")
	body := struct {
		Params []model.Param `json:"params"`
	}{Params: params}
	if err := doJSON(ctx, e.hc, http.MethodPost, u, body, &data); err != nil {
		return "", fmt.Errorf("start build: %w", err)
	}
	if data.BuildID == "" {
		return "", fmt.Errorf("start build: engine returned no build id")
	}
	return data.BuildID, nil
}
