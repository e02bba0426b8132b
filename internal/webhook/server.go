// Package webhook is the ingestion surface: it receives Git host webhooks
// and manual run requests, persists the trigger event, and hands each
// manifest file to the orchestrator. Replies are always 200-class with a
// build id or a structured reason; the Git host has no use for a 500.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/streamci/streamci/internal/config"
	"github.com/streamci/streamci/internal/event"
	"github.com/streamci/streamci/internal/log"
	"github.com/streamci/streamci/internal/orchestrator"
	"github.com/streamci/streamci/internal/store"
)

// ManifestFile is one pipeline definition found in a repository.
type ManifestFile struct {
	Path    string
	Content string
}

// ManifestSource lists the pipeline manifests of a project at a ref.
type ManifestSource interface {
	Fetch(ctx context.Context, gitProjectID int64, ref string) ([]ManifestFile, error)
}

// Server is the ingestion HTTP server.
type Server struct {
	cfg       config.IngestConfig
	store     *store.Store
	orch      *orchestrator.Orchestrator
	manifests ManifestSource
	srv       *http.Server
}

func NewServer(cfg config.IngestConfig, st *store.Store, orch *orchestrator.Orchestrator, manifests ManifestSource) *Server {
	s := &Server{cfg: cfg, store: st, orch: orch, manifests: manifests}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Post(cfg.Path, s.handleWebhook)
	r.Post("/pipelines/trigger", s.handleManual)
	r.Get("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
	}
	return s
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info("webhook server listening", "addr", s.cfg.Listen, "path", s.cfg.Path)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router; used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

type triggerOutcome struct {
	Path    string `json:"path"`
	BuildID string `json:"buildId,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type triggerResponse struct {
	EventID  string           `json:"eventId,omitempty"`
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Outcomes []triggerOutcome `json:"outcomes,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, triggerResponse{Status: "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody()))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Status: "error", Message: "read body: " + err.Error()})
		return
	}

	ev, err := event.ParseWebhook(body)
	if err != nil {
		// unsupported event kinds are acknowledged, not failed: the Git
		// host would otherwise retry or disable the hook
		log.WithComponent("webhook").Info("ignoring payload", "error", err)
		writeJSON(w, http.StatusOK, triggerResponse{Status: "ignored", Message: err.Error()})
		return
	}

	s.dispatch(w, r, ev)
}

type manualRequest struct {
	GitProjectID int64  `json:"gitProjectId"`
	UserID       string `json:"userId"`
	Branch       string `json:"branch"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, triggerResponse{Status: "unauthorized"})
		return
	}

	var req manualRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxBody())).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Status: "error", Message: "decode request: " + err.Error()})
		return
	}
	if req.GitProjectID == 0 || req.UserID == "" || req.Branch == "" {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Status: "error", Message: "gitProjectId, userId and branch are required"})
		return
	}

	s.dispatch(w, r, event.Manual(req.GitProjectID, req.UserID, req.Branch))
}

// dispatch persists the event and runs the orchestrator for every manifest
// file of the project at the event's ref.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev *event.RequestEvent) {
	ctx := r.Context()
	ev.ID = uuid.NewString()
	logger := log.WithComponent("webhook").With("event_id", ev.ID, "kind", string(ev.ObjectKind))

	if err := s.store.SaveEvent(ctx, ev); err != nil {
		logger.Error("persist event failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, triggerResponse{Status: "error", Message: "persist event"})
		return
	}

	files, err := s.manifests.Fetch(ctx, ev.GitProjectID, ev.Branch)
	if err != nil {
		logger.Error("manifest fetch failed", "error", err)
		writeJSON(w, http.StatusOK, triggerResponse{
			EventID: ev.ID, Status: "error", Message: "fetch manifests: " + err.Error(),
		})
		return
	}
	if len(files) == 0 {
		writeJSON(w, http.StatusOK, triggerResponse{EventID: ev.ID, Status: "no_manifests"})
		return
	}

	resp := triggerResponse{EventID: ev.ID, Status: "ok"}
	for _, f := range files {
		res, err := s.orch.HandleTrigger(ctx, orchestrator.Trigger{
			Event:       ev,
			FilePath:    f.Path,
			YAMLText:    f.Content,
			ProjectCode: projectCode(ev.GitProjectID),
			RepoURL:     ev.RepoURL,
		})
		if err != nil {
			logger.Error("trigger handling failed", "file", f.Path, "error", err)
			resp.Outcomes = append(resp.Outcomes, triggerOutcome{Path: f.Path, Reason: "INTERNAL_ERROR"})
			continue
		}
		resp.Outcomes = append(resp.Outcomes, triggerOutcome{
			Path:    f.Path,
			BuildID: res.BuildID,
			Reason:  res.Reason,
			Detail:  res.Detail,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorized checks the shared-secret token header. An empty configured
// secret disables the check.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Secret == "" {
		return true
	}
	header := s.cfg.TokenHeader
	if header == "" {
		header = "X-Gitlab-Token"
	}
	got := r.Header.Get(header)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) == 1
}

func (s *Server) maxBody() int64 {
	if s.cfg.MaxBodySize > 0 {
		return s.cfg.MaxBodySize
	}
	return 1 << 20
}

func projectCode(gitProjectID int64) string {
	return "git_" + strconv.FormatInt(gitProjectID, 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
