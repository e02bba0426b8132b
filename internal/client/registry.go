package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/streamci/streamci/internal/config"
)

// Registry talks to the plugin marketplace. It implements
// compiler.Marketplace. Installs are idempotent on the registry side.
type Registry struct {
	baseURL string
	hc      *http.Client
}

func NewRegistry(cfg config.RegistryConfig) *Registry {
	return &Registry{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc:      &http.Client{Timeout: cfg.Timeout},
	}
}

func (r *Registry) InstallAtom(ctx context.Context, userID, projectCode, atomCode string) error {
	u := r.baseURL + "/api/atoms/" + url.PathEscape(atomCode) + "/install"
	body := struct {
		UserID       string   `json:"userId"`
		ProjectCodes []string `json:"projectCodes"`
	}{UserID: userID, ProjectCodes: []string{projectCode}}

	if err := doJSON(ctx, r.hc, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("install atom %s: %w", atomCode, err)
	}
	return nil
}
