// Package orchestrator drives one trigger event from normalized YAML to a
// started build: it reconciles the stored pipeline binding against the
// engine, serializes the edit-then-start sequence under a distributed
// lock, and records build or not-build outcomes for every attempt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/streamci/streamci/internal/compiler"
	"github.com/streamci/streamci/internal/event"
	"github.com/streamci/streamci/internal/lock"
	"github.com/streamci/streamci/internal/log"
	"github.com/streamci/streamci/internal/manifest"
	"github.com/streamci/streamci/internal/model"
	"github.com/streamci/streamci/internal/store"
)

// PipelineEngine is the external pipeline service. Get doubles as the
// binding health check: any error means the stored pipeline id is stale.
type PipelineEngine interface {
	Create(ctx context.Context, userID, projectCode string, m *model.Model, channel string) (pipelineID string, err error)
	Edit(ctx context.Context, userID, projectCode, pipelineID string, m *model.Model, channel string) error
	Get(ctx context.Context, userID, projectCode, pipelineID, channel string) error
	Delete(ctx context.Context, userID, projectCode, pipelineID, channel string) error
	StartBuild(ctx context.Context, userID, projectCode, pipelineID string, params []model.Param, channel string) (buildID string, err error)
}

// CommitCheck is an in-progress status pushed to the source host.
type CommitCheck struct {
	GitProjectID int64  `json:"gitProjectId"`
	CommitID     string `json:"commitId"`
	MergeID      *int64 `json:"mergeId,omitempty"`
	BuildID      string `json:"buildId"`
	UserID       string `json:"userId"`
	State        string `json:"state"`
	Context      string `json:"context"`
	Description  string `json:"description"`
}

// GitService is the source-control collaborator.
type GitService interface {
	GetToken(ctx context.Context, gitProjectID int64) (string, error)
	PushCommitCheck(ctx context.Context, check CommitCheck) error
}

// CommitCheckPending is the state pushed when a build starts.
const CommitCheckPending = "pending"

// Options configures an Orchestrator.
type Options struct {
	Channel string        // engine channel code, e.g. "GIT"
	LockTTL time.Duration // TTL of the per-pipeline trigger lock
}

// Orchestrator coordinates compile, reconcile and build-start for trigger
// events. Safe for concurrent use; per-pipeline work is serialized by the
// locker.
type Orchestrator struct {
	store    *store.Store
	engine   PipelineEngine
	git      GitService
	compiler *compiler.Compiler
	locker   lock.Locker
	opts     Options
}

func New(st *store.Store, engine PipelineEngine, git GitService, c *compiler.Compiler, locker lock.Locker, opts Options) *Orchestrator {
	if opts.Channel == "" {
		opts.Channel = "GIT"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	return &Orchestrator{
		store:    st,
		engine:   engine,
		git:      git,
		compiler: c,
		locker:   locker,
		opts:     opts,
	}
}

// Trigger is one manifest file to evaluate for an event.
type Trigger struct {
	Event       *event.RequestEvent
	FilePath    string
	YAMLText    string
	ProjectCode string
	RepoURL     string
}

// Result reports what a trigger produced: a started build, or a recorded
// reason it did not build. Exactly one of BuildID / Reason is set.
type Result struct {
	BuildID    string
	PipelineID string
	Reason     string
	Detail     string
}

// Built reports whether a build was started.
func (r *Result) Built() bool { return r.BuildID != "" }

// HandleTrigger runs the full trigger-to-build sequence for one manifest
// file. User-input and engine failures are recorded as not-build outcomes
// and returned in the Result, not as errors: the webhook sender has no use
// for a 500. The returned error covers local persistence failures only.
func (o *Orchestrator) HandleTrigger(ctx context.Context, t Trigger) (*Result, error) {
	ev := t.Event
	logger := log.WithComponent("orchestrator").With("event_id", ev.ID, "file", t.FilePath)

	m, err := manifest.Normalize(t.YAMLText)
	if err != nil {
		logger.Warn("manifest rejected", "error", err)
		return o.skip(ctx, t, "", store.ReasonYAMLInvalid, err.Error())
	}

	row, err := o.loadOrCreatePipeline(ctx, t, m)
	if err != nil {
		return nil, err
	}
	if !row.Enabled {
		logger.Info("pipeline disabled, skipping")
		return o.skip(ctx, t, m.Canonical, store.ReasonPipelineDisabled, "pipeline is disabled")
	}

	if matched, detail := matches(m.TriggerOn, ev); !matched {
		logger.Info("trigger rules did not match", "detail", detail)
		return o.skip(ctx, t, m.Canonical, store.ReasonTriggerNotMatch, detail)
	}

	// provisional build row, before anything external happens; the YAML
	// texts and actor are captured here so later records need no re-fetch
	build := &store.EventBuild{
		ID:             uuid.NewString(),
		EventID:        ev.ID,
		FilePath:       t.FilePath,
		OriginYAML:     t.YAMLText,
		NormalizedYAML: m.Canonical,
		Branch:         ev.Branch,
		TriggerUser:    ev.UserID,
	}
	if err := o.store.CreateBuild(ctx, build); err != nil {
		return nil, err
	}

	compiled, err := o.compiler.Compile(ctx, compiler.Input{
		Manifest:    m,
		Event:       ev,
		ProjectCode: t.ProjectCode,
		RepoURL:     t.RepoURL,
		UserID:      ev.UserID,
	})
	if err != nil {
		logger.Warn("compile failed", "error", err)
		reason := store.ReasonPipelineRunError
		var verr *manifest.ValidationError
		if errors.As(err, &verr) {
			reason = store.ReasonYAMLInvalid
		}
		return o.compensate(ctx, t, build.ID, reason, err)
	}

	result, err := o.editAndStart(ctx, t, row, compiled, build, logger)
	if err != nil {
		logger.Error("build start failed", "error", err)
		return o.compensate(ctx, t, build.ID, store.ReasonPipelineRunError, err)
	}
	return result, nil
}

// editAndStart reconciles the binding and starts the build, holding the
// per-pipeline lock across the whole edit-then-start sequence so two
// concurrent events never interleave an edit with a start.
func (o *Orchestrator) editAndStart(ctx context.Context, t Trigger, row *store.Pipeline, compiled *model.Model, build *store.EventBuild, logger *slog.Logger) (*Result, error) {
	key := fmt.Sprintf("trigger-lock:%d:%s", t.Event.GitProjectID, t.FilePath)
	release, err := o.locker.Acquire(ctx, key, o.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire trigger lock: %w", err)
	}
	defer release()

	pipelineID, err := o.reconcile(ctx, t, row, compiled, logger)
	if err != nil {
		return nil, err
	}

	params := compiled.TriggerStage().Params
	buildID, err := o.engine.StartBuild(ctx, t.Event.UserID, t.ProjectCode, pipelineID, params, o.opts.Channel)
	if err != nil {
		return nil, fmt.Errorf("start build: %w", err)
	}

	if err := o.store.BindBuild(ctx, build.ID, pipelineID, buildID); err != nil {
		return nil, err
	}
	row.PipelineID = pipelineID
	row.LatestBuildID = buildID
	if err := o.store.SavePipeline(ctx, row); err != nil {
		return nil, err
	}

	o.pushCommitCheck(ctx, t, buildID, logger)

	logger.Info("build started", "pipeline_id", pipelineID, "build_id", buildID)
	return &Result{BuildID: buildID, PipelineID: pipelineID}, nil
}

// reconcile performs the binding state machine: an unbound file creates an
// engine pipeline; a bound one is health-checked, recreated when stale, or
// re-edited with the freshly compiled model.
func (o *Orchestrator) reconcile(ctx context.Context, t Trigger, row *store.Pipeline, compiled *model.Model, logger *slog.Logger) (string, error) {
	ev := t.Event

	if row.Bound() {
		if err := o.engine.Get(ctx, ev.UserID, t.ProjectCode, row.PipelineID, o.opts.Channel); err != nil {
			logger.Warn("stored pipeline is stale, recreating", "pipeline_id", row.PipelineID, "error", err)

			staleID := row.PipelineID
			row.PipelineID = ""
			if err := o.store.SavePipeline(ctx, row); err != nil {
				return "", err
			}
			if err := o.engine.Delete(ctx, ev.UserID, t.ProjectCode, staleID, o.opts.Channel); err != nil {
				logger.Warn("stale pipeline delete failed", "pipeline_id", staleID, "error", err)
			}
		}
	}

	fingerprint, err := model.Fingerprint(compiled)
	if err != nil {
		return "", err
	}

	if !row.Bound() {
		pipelineID, err := o.engine.Create(ctx, ev.UserID, t.ProjectCode, compiled, o.opts.Channel)
		if err != nil {
			return "", fmt.Errorf("create pipeline: %w", err)
		}
		row.PipelineID = pipelineID
		row.DisplayName = compiled.Name
		row.Fingerprint = fingerprint
		if err := o.store.SavePipeline(ctx, row); err != nil {
			return "", err
		}
		logger.Info("pipeline created", "pipeline_id", pipelineID)
		return pipelineID, nil
	}

	if row.Fingerprint != fingerprint {
		logger.Info("pipeline model changed", "old", row.Fingerprint, "new", fingerprint)
	}
	row.DisplayName = compiled.Name
	row.Fingerprint = fingerprint
	if err := o.store.SavePipeline(ctx, row); err != nil {
		return "", err
	}
	if err := o.engine.Edit(ctx, ev.UserID, t.ProjectCode, row.PipelineID, compiled, o.opts.Channel); err != nil {
		return "", fmt.Errorf("edit pipeline %s: %w", row.PipelineID, err)
	}
	return row.PipelineID, nil
}

// pushCommitCheck reports in-progress status to the source host. Manual
// runs have no originating commit to annotate. Failures are logged, never
// propagated.
func (o *Orchestrator) pushCommitCheck(ctx context.Context, t Trigger, buildID string, logger *slog.Logger) {
	ev := t.Event
	if ev.ObjectKind == event.KindManual || ev.CommitID == "" {
		return
	}
	check := CommitCheck{
		GitProjectID: ev.GitProjectID,
		CommitID:     ev.CommitID,
		MergeID:      ev.MergeRequestID,
		BuildID:      buildID,
		UserID:       ev.UserID,
		State:        CommitCheckPending,
		Context:      t.FilePath,
		Description:  "build started",
	}
	if err := o.git.PushCommitCheck(ctx, check); err != nil {
		logger.Warn("commit check push failed", "commit", ev.CommitID, "error", err)
	}
}

func (o *Orchestrator) loadOrCreatePipeline(ctx context.Context, t Trigger, m *manifest.Manifest) (*store.Pipeline, error) {
	row, err := o.store.GetPipeline(ctx, t.Event.GitProjectID, t.FilePath)
	if errors.Is(err, store.ErrNotFound) {
		row = &store.Pipeline{
			GitProjectID: t.Event.GitProjectID,
			FilePath:     t.FilePath,
			DisplayName:  m.Name,
			Enabled:      true,
		}
		if err := o.store.SavePipeline(ctx, row); err != nil {
			return nil, err
		}
		return row, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// skip records a not-build outcome with no provisional row to clean up.
// normalized is empty when normalization itself was what failed.
func (o *Orchestrator) skip(ctx context.Context, t Trigger, normalized, reason, detail string) (*Result, error) {
	nb := &store.EventNotBuild{
		ID:             uuid.NewString(),
		EventID:        t.Event.ID,
		FilePath:       t.FilePath,
		Reason:         reason,
		Detail:         detail,
		OriginYAML:     t.YAMLText,
		NormalizedYAML: normalized,
		Branch:         t.Event.Branch,
		TriggerUser:    t.Event.UserID,
	}
	if err := o.store.SaveNotBuild(ctx, nb); err != nil {
		return nil, err
	}
	return &Result{Reason: reason, Detail: detail}, nil
}

// compensate replaces an orphaned provisional build row with a not-build
// record carrying the capture fields the row already holds. The external
// call may have partially succeeded, so this is a compensating write, not
// a rollback.
func (o *Orchestrator) compensate(ctx context.Context, t Trigger, buildRecordID, reason string, cause error) (*Result, error) {
	detail := "pipeline run failed"
	if cause != nil && cause.Error() != "" {
		detail = cause.Error()
	}

	build, err := o.store.GetBuild(ctx, buildRecordID)
	if err != nil {
		return nil, err
	}

	nb := &store.EventNotBuild{
		ID:             uuid.NewString(),
		EventID:        t.Event.ID,
		FilePath:       t.FilePath,
		Reason:         reason,
		Detail:         detail,
		OriginYAML:     build.OriginYAML,
		NormalizedYAML: build.NormalizedYAML,
		Branch:         build.Branch,
		TriggerUser:    build.TriggerUser,
	}
	if err := o.store.SaveNotBuild(ctx, nb); err != nil {
		return nil, err
	}
	if err := o.store.DeleteBuild(ctx, build.ID); err != nil {
		return nil, err
	}
	return &Result{Reason: reason, Detail: detail}, nil
}

// matches evaluates the trigger rules against the event. Manual triggers
// always run; schedule rules never gate an incoming webhook.
func matches(rules *manifest.TriggerOn, ev *event.RequestEvent) (bool, string) {
	mctx := manifest.MatchContext{
		Branch:       ev.Branch,
		Tag:          ev.Branch,
		User:         ev.UserID,
		ChangedFiles: ev.ChangedFiles,
	}

	switch ev.ObjectKind {
	case event.KindManual:
		return true, ""
	case event.KindPush:
		if rules.MatchPush(mctx) {
			return true, ""
		}
		return false, fmt.Sprintf("push to %q matched no trigger rule", ev.Branch)
	case event.KindTagPush:
		if rules.MatchTag(mctx) {
			return true, ""
		}
		return false, fmt.Sprintf("tag %q matched no trigger rule", ev.Branch)
	case event.KindMergeRequest:
		mctx.Branch = ev.TargetBranch
		if rules.MatchMR(mctx, ev.SourceBranch) {
			return true, ""
		}
		return false, fmt.Sprintf("merge request into %q matched no trigger rule", ev.TargetBranch)
	default:
		return false, fmt.Sprintf("unsupported event kind %q", ev.ObjectKind)
	}
}
