// Package compiler turns a normalized manifest plus a trigger event into
// the canonical pipeline model handed to the engine. Compilation is pure
// except for two tolerated side effects: requesting marketplace plugin
// installs (failures swallowed) and resolving OAuth tokens for checkout
// steps.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/streamci/streamci/internal/event"
	"github.com/streamci/streamci/internal/log"
	"github.com/streamci/streamci/internal/manifest"
	"github.com/streamci/streamci/internal/model"
	"github.com/streamci/streamci/internal/vars"
)

// Marketplace installs plugins into a project. Install is idempotent; the
// plugin may already be installed, so failures are logged and ignored.
type Marketplace interface {
	InstallAtom(ctx context.Context, userID, projectCode, atomCode string) error
}

// TokenResolver fetches the OAuth token embedded into self-checkout steps.
type TokenResolver interface {
	GetToken(ctx context.Context, gitProjectID int64) (string, error)
}

// Input bundles everything one compile needs besides the manifest.
type Input struct {
	Manifest    *manifest.Manifest
	Event       *event.RequestEvent
	ProjectCode string
	RepoURL     string
	UserID      string
}

// Compiler builds pipeline models. Safe for concurrent use.
type Compiler struct {
	marketplace Marketplace
	tokens      TokenResolver
}

func New(marketplace Marketplace, tokens TokenResolver) *Compiler {
	return &Compiler{marketplace: marketplace, tokens: tokens}
}

const defaultDockerImage = "ubuntu:20.04"

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Compile produces the model for one trigger of one manifest. Structural
// errors fail fast before any external mutation occurs.
func (c *Compiler) Compile(ctx context.Context, in Input) (*model.Model, error) {
	m := in.Manifest
	out := &model.Model{Name: m.Name}

	trigger, bindings, err := c.triggerStage(m, in.Event)
	if err != nil {
		return nil, err
	}
	out.Stages = append(out.Stages, *trigger)

	ordered := make([]manifest.Stage, 0, len(m.Stages)+len(m.Finally))
	ordered = append(ordered, m.Stages...)
	finallyFrom := len(ordered)
	ordered = append(ordered, m.Finally...)

	for i, src := range ordered {
		stage, err := c.compileStage(ctx, in, src, bindings, i >= finallyFrom)
		if err != nil {
			return nil, err
		}
		out.Stages = append(out.Stages, *stage)
	}
	return out, nil
}

// triggerStage emits stage 0: the manual trigger element, a timer trigger
// when a schedule is declared, and the resolved start-parameter list.
// Parameters accumulate in order so each variable's value may reference
// webhook fields and earlier variables, never later ones.
func (c *Compiler) triggerStage(m *manifest.Manifest, ev *event.RequestEvent) (*model.Stage, map[string]*string, error) {
	elements := []model.Element{{
		ID:      "T-1",
		Name:    "manual trigger",
		Kind:    model.ElementManualTrigger,
		Options: model.ElementOptions{RunCondition: model.RunWhenPreSucceeded},
	}}

	if m.TriggerOn != nil && m.TriggerOn.Schedules != nil && m.TriggerOn.Schedules.Cron != "" {
		spec := m.TriggerOn.Schedules.Cron
		if _, err := cronParser.Parse(spec); err != nil {
			return nil, nil, validationErrorf("invalid cron expression %q: %v", spec, err)
		}
		elements = append(elements, model.Element{
			ID:      "T-2",
			Name:    "timer trigger",
			Kind:    model.ElementTimerTrigger,
			Cron:    spec,
			Options: model.ElementOptions{RunCondition: model.RunWhenPreSucceeded},
		})
	}

	bindings := map[string]*string{}
	var params []model.Param
	add := func(key, value string) {
		v := value
		bindings[key] = &v
		params = append(params, model.Param{Key: key, Value: value})
	}

	for _, p := range ev.StartParams() {
		add(p.Key, p.Value)
	}
	for _, v := range m.Variables {
		resolved := vars.Interpolate(v.Value, bindings)
		add(v.Name, resolved)
		// variables are addressable under both bare and qualified names
		r := resolved
		bindings["variables."+v.Name] = &r
	}

	return &model.Stage{
		ID:     "stage-trigger",
		Name:   "trigger",
		Params: params,
		Containers: []model.Container{{
			ID:       "job-trigger",
			Name:     "trigger",
			Dispatch: model.Dispatch{Type: model.DispatchAgentless},
			Elements: elements,
		}},
	}, bindings, nil
}

func (c *Compiler) compileStage(ctx context.Context, in Input, src manifest.Stage, bindings map[string]*string, isFinally bool) (*model.Stage, error) {
	stage := &model.Stage{
		ID:        src.ID,
		Name:      src.Name,
		Finally:   isFinally,
		FastKill:  src.FastKill,
		Condition: src.If,
	}

	for i, job := range src.Jobs {
		container, err := c.compileJob(ctx, in, job, i, bindings)
		if err != nil {
			return nil, err
		}
		stage.Containers = append(stage.Containers, *container)
	}
	return stage, nil
}

func (c *Compiler) compileJob(ctx context.Context, in Input, job manifest.Job, index int, bindings map[string]*string) (*model.Container, error) {
	name := job.Name
	if name == "" {
		name = fmt.Sprintf("Job_%d", index+1)
	}

	dispatch, baseOS, err := resolveDispatch(job.RunsOn)
	if err != nil {
		return nil, err
	}

	container := &model.Container{
		ID:       job.ID,
		Name:     name,
		BaseOS:   baseOS,
		Dispatch: dispatch,
		Control: model.JobControl{
			Condition:       job.If,
			DependsOn:       job.DependOn,
			ContinueOnError: job.ContinueOnError,
			TimeoutMinutes:  job.TimeoutMinutes,
		},
	}

	for _, step := range job.Steps {
		el, err := c.compileStep(ctx, in, step, baseOS, bindings)
		if err != nil {
			return nil, err
		}
		container.Elements = append(container.Elements, *el)
	}
	return container, nil
}

// resolveDispatch maps the runs-on declaration onto a dispatch target.
// Pool forms: "" or "docker" (public Docker pool), "macos", "agentless",
// "self-hosted/<env>" (third-party agent environment). Anything else is a
// hard compile error; a job without a valid target cannot run.
func resolveDispatch(r manifest.RunsOn) (model.Dispatch, model.BaseOS, error) {
	baseOS := selectorOS(r.AgentSelector)

	pool := strings.ToLower(r.PoolName)
	switch {
	case pool == "agentless":
		return model.Dispatch{Type: model.DispatchAgentless}, baseOS, nil

	case pool == "" || pool == "docker":
		image := r.Container
		if image == "" {
			image = defaultDockerImage
		}
		return model.Dispatch{
			Type:       model.DispatchDocker,
			Image:      image,
			Credential: r.Credential,
		}, baseOS, nil

	case pool == "macos":
		return model.Dispatch{
			Type:          model.DispatchMacOS,
			SystemVersion: r.SystemVersion,
			XcodeVersion:  r.XcodeVersion,
		}, model.OSMacOS, nil

	case strings.HasPrefix(pool, "self-hosted/"):
		env := strings.TrimPrefix(r.PoolName, "self-hosted/")
		if env == "" {
			return model.Dispatch{}, "", validationErrorf("runs-on pool %q names no agent environment", r.PoolName)
		}
		return model.Dispatch{
			Type:         model.DispatchAgentEnv,
			AgentEnvName: env,
		}, baseOS, nil

	default:
		return model.Dispatch{}, "", validationErrorf("unknown runs-on pool %q", r.PoolName)
	}
}

func selectorOS(selector []string) model.BaseOS {
	if len(selector) == 0 {
		return model.OSLinux
	}
	switch strings.ToLower(selector[0]) {
	case "windows":
		return model.OSWindows
	case "macos":
		return model.OSMacOS
	default:
		return model.OSLinux
	}
}

func (c *Compiler) compileStep(ctx context.Context, in Input, step manifest.Step, baseOS model.BaseOS, bindings map[string]*string) (*model.Element, error) {
	el := &model.Element{
		ID:      step.ID,
		Name:    step.Name,
		Outputs: step.Outputs,
		Options: stepOptions(step),
	}

	switch {
	case step.Checkout != "":
		spec, err := c.checkoutSpec(ctx, in, step.Checkout)
		if err != nil {
			return nil, err
		}
		el.Kind = model.ElementCheckout
		el.Checkout = spec
		if el.Name == "" {
			el.Name = "checkout"
		}

	case step.Run != "":
		el.Kind = model.ElementLinuxScript
		if baseOS == model.OSWindows {
			el.Kind = model.ElementWindowsScript
		}
		el.Script = vars.Interpolate(step.Run, bindings)
		if el.Name == "" {
			el.Name = "run script"
		}

	case step.Uses != "":
		code, version, ok := strings.Cut(step.Uses, "@")
		if !ok || code == "" || version == "" {
			return nil, validationErrorf("uses reference %q must be of the form code@version", step.Uses)
		}
		el.Kind = model.ElementMarketAtom
		el.AtomCode = code
		el.AtomVersion = version
		el.Inputs = interpolateInputs(step.With, bindings)
		if el.Name == "" {
			el.Name = code
		}
		if err := c.marketplace.InstallAtom(ctx, in.UserID, in.ProjectCode, code); err != nil {
			log.Warn("plugin install failed, assuming already installed",
				"atom", code, "project", in.ProjectCode, "error", err)
		}

	default:
		return nil, validationErrorf("step %q declares none of run, uses, checkout", step.Name)
	}
	return el, nil
}

// checkoutSpec resolves "self" to the triggering repository with an OAuth
// token; any other value is taken as a foreign repository URL.
func (c *Compiler) checkoutSpec(ctx context.Context, in Input, target string) (*model.CheckoutSpec, error) {
	if target != "self" {
		return &model.CheckoutSpec{
			RepoURL:  target,
			Ref:      in.Event.Branch,
			RepoType: "URL",
		}, nil
	}

	token, err := c.tokens.GetToken(ctx, in.Event.GitProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve checkout token for project %d: %w", in.Event.GitProjectID, err)
	}
	return &model.CheckoutSpec{
		RepoURL:     in.RepoURL,
		Ref:         in.Event.Branch,
		AccessToken: token,
		RepoType:    "URL",
		AuthType:    "ACCESS_TOKEN",
	}, nil
}

// interpolateInputs resolves expressions in string and string-list plugin
// inputs; other value types pass through untouched.
func interpolateInputs(with map[string]any, bindings map[string]*string) map[string]any {
	if len(with) == 0 {
		return nil
	}
	out := make(map[string]any, len(with))
	for k, v := range with {
		switch val := v.(type) {
		case string:
			out[k] = vars.Interpolate(val, bindings)
		case []any:
			list := make([]any, len(val))
			for i, item := range val {
				if s, ok := item.(string); ok {
					list[i] = vars.Interpolate(s, bindings)
				} else {
					list[i] = item
				}
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}

func stepOptions(step manifest.Step) model.ElementOptions {
	opts := model.ElementOptions{
		ContinueOnError: step.ContinueOnError,
		TimeoutMinutes:  step.TimeoutMinutes,
		RunCondition:    model.RunWhenPreSucceeded,
	}
	if step.RetryTimes > 0 {
		opts.EnableRetry = true
		opts.RetryCount = step.RetryTimes
	}
	if step.If != "" {
		opts.RunCondition = model.RunWhenCustomMatch
		opts.CustomCondition = step.If
	}
	return opts
}

func validationErrorf(format string, args ...any) error {
	return &manifest.ValidationError{Message: fmt.Sprintf(format, args...)}
}
