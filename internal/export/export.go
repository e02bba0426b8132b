// Package export serializes a stored pipeline model back into scripted
// pipeline YAML: the round-trip direction of the compiler.
package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamci/streamci/internal/manifest"
	"github.com/streamci/streamci/internal/model"
	"github.com/streamci/streamci/internal/vars"
)

// Meta identifies the exported pipeline in the banner comment.
type Meta struct {
	ProjectID    string
	PipelineID   string
	PipelineName string
	Time         time.Time
}

type exportDoc struct {
	Version   string         `yaml:"version"`
	Name      string         `yaml:"name,omitempty"`
	TriggerOn *exportTrigger `yaml:"triggerOn,omitempty"`
	Stages    []*exportStage `yaml:"stages"`
	Finally   []*exportStage `yaml:"finally,omitempty"`
}

type exportTrigger struct {
	Schedules *manifest.Schedule `yaml:"schedules"`
}

type exportStage struct {
	Name     string     `yaml:"name,omitempty"`
	If       string     `yaml:"if,omitempty"`
	FastKill bool       `yaml:"fast-kill,omitempty"`
	Jobs     *yaml.Node `yaml:"jobs"`
}

type exportJob struct {
	Name            string       `yaml:"name,omitempty"`
	If              string       `yaml:"if,omitempty"`
	DependOn        []string     `yaml:"depend-on,omitempty"`
	RunsOn          exportRunsOn `yaml:"runs-on"`
	TimeoutMinutes  int          `yaml:"timeout-minutes,omitempty"`
	ContinueOnError bool         `yaml:"continue-on-error,omitempty"`
	Steps           []*yaml.Node `yaml:"steps"`
}

type exportRunsOn struct {
	PoolName      string   `yaml:"pool-name"`
	Container     string   `yaml:"container,omitempty"`
	Credential    string   `yaml:"credential,omitempty"`
	AgentSelector []string `yaml:"agent-selector,omitempty"`
	SystemVersion string   `yaml:"system-version,omitempty"`
	XcodeVersion  string   `yaml:"xcode-version,omitempty"`
}

type exportStep struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name,omitempty"`
	If              string         `yaml:"if,omitempty"`
	Uses            string         `yaml:"uses,omitempty"`
	Run             string         `yaml:"run,omitempty"`
	Checkout        string         `yaml:"checkout,omitempty"`
	With            map[string]any `yaml:"with,omitempty"`
	Outputs         []string       `yaml:"outputs,omitempty"`
	TimeoutMinutes  int            `yaml:"timeout-minutes,omitempty"`
	RetryTimes      int            `yaml:"retry-times,omitempty"`
	ContinueOnError bool           `yaml:"continue-on-error,omitempty"`
}

// exporter carries per-export id and output bookkeeping.
type exporter struct {
	nextID int
	// declared output name -> id of the producing step, across the whole
	// model; a duplicate name is a hard error.
	owners map[string]string
}

// Export walks the stored model in compile order, skipping the trigger
// stage, and reconstructs scripted YAML. Step ids are re-assigned
// sequentially so exported ids are stable and collision-free regardless of
// the ids stored on the model.
func Export(m *model.Model, meta Meta) (string, error) {
	e := &exporter{owners: map[string]string{}}

	doc := exportDoc{
		Version:   manifest.VersionV2,
		Name:      m.Name,
		TriggerOn: triggerSection(m),
	}

	for _, stage := range m.Stages[min(1, len(m.Stages)):] {
		es, err := e.stage(stage)
		if err != nil {
			return "", err
		}
		if stage.Finally {
			doc.Finally = append(doc.Finally, es)
		} else {
			doc.Stages = append(doc.Stages, es)
		}
	}

	body, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("serialize pipeline yaml: %w", err)
	}
	return banner(meta) + string(body), nil
}

// triggerSection recovers the schedule declaration from the trigger
// stage's timer element, if any.
func triggerSection(m *model.Model) *exportTrigger {
	trigger := m.TriggerStage()
	if trigger == nil {
		return nil
	}
	for _, c := range trigger.Containers {
		for _, el := range c.Elements {
			if el.Kind == model.ElementTimerTrigger && el.Cron != "" {
				return &exportTrigger{Schedules: &manifest.Schedule{Cron: el.Cron}}
			}
		}
	}
	return nil
}

func (e *exporter) stage(stage model.Stage) (*exportStage, error) {
	jobs := &yaml.Node{Kind: yaml.MappingNode}
	for i, c := range stage.Containers {
		job, err := e.job(c, i)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: c.ID}
		var value yaml.Node
		if err := value.Encode(job); err != nil {
			return nil, fmt.Errorf("stage %q: encode job %s: %w", stage.Name, c.ID, err)
		}
		jobs.Content = append(jobs.Content, key, &value)
	}

	return &exportStage{
		Name:     stage.Name,
		If:       stage.Condition,
		FastKill: stage.FastKill,
		Jobs:     jobs,
	}, nil
}

func (e *exporter) job(c model.Container, index int) (*exportJob, error) {
	name := c.Name
	if name == fmt.Sprintf("Job_%d", index+1) {
		name = "" // positional fallback name, not user-authored
	}

	job := &exportJob{
		Name:            name,
		If:              c.Control.Condition,
		DependOn:        c.Control.DependsOn,
		RunsOn:          runsOn(c),
		TimeoutMinutes:  c.Control.TimeoutMinutes,
		ContinueOnError: c.Control.ContinueOnError,
	}

	for _, el := range c.Elements {
		node, err := e.step(el)
		if err != nil {
			return nil, err
		}
		job.Steps = append(job.Steps, node)
	}
	return job, nil
}

func runsOn(c model.Container) exportRunsOn {
	r := exportRunsOn{}
	switch c.Dispatch.Type {
	case model.DispatchAgentless:
		r.PoolName = "agentless"
	case model.DispatchMacOS:
		r.PoolName = "macos"
		r.SystemVersion = c.Dispatch.SystemVersion
		r.XcodeVersion = c.Dispatch.XcodeVersion
	case model.DispatchAgentEnv:
		r.PoolName = "self-hosted/" + c.Dispatch.AgentEnvName
	default:
		r.PoolName = "docker"
		r.Container = c.Dispatch.Image
		r.Credential = c.Dispatch.Credential
	}
	if c.BaseOS == model.OSWindows {
		r.AgentSelector = []string{"windows"}
	}
	return r
}

// step converts one element to a step node. Unsupported element kinds are
// not dropped: they become a placeholder step flagged with a comment so the
// exported document stays syntactically complete.
func (e *exporter) step(el model.Element) (*yaml.Node, error) {
	e.nextID++
	id := fmt.Sprintf("step-%d", e.nextID)

	for _, out := range el.Outputs {
		if owner, dup := e.owners[out]; dup {
			return nil, &manifest.ValidationError{
				Message: fmt.Sprintf("output %q declared by both step %s and step %s", out, owner, id),
			}
		}
		e.owners[out] = id
	}

	step := exportStep{
		ID:              id,
		Name:            el.Name,
		Outputs:         el.Outputs,
		TimeoutMinutes:  el.Options.TimeoutMinutes,
		ContinueOnError: el.Options.ContinueOnError,
	}
	if el.Options.EnableRetry {
		step.RetryTimes = el.Options.RetryCount
	}
	if el.Options.RunCondition == model.RunWhenCustomMatch {
		step.If = el.Options.CustomCondition
	}

	placeholder := false
	switch el.Kind {
	case model.ElementLinuxScript, model.ElementWindowsScript:
		step.Run = e.rewrite(el.Script)

	case model.ElementCheckout:
		step.Checkout = checkoutTarget(el.Checkout)

	case model.ElementMarketAtom:
		step.Uses = el.AtomCode + "@" + el.AtomVersion
		step.With = e.rewriteInputs(el.Inputs)

	default:
		placeholder = true
		step.Run = fmt.Sprintf("echo unsupported plugin %q", el.Kind)
	}

	var node yaml.Node
	if err := node.Encode(step); err != nil {
		return nil, fmt.Errorf("encode step %s: %w", id, err)
	}
	if placeholder {
		node.HeadComment = fmt.Sprintf(
			"plugin type %q has no scripted equivalent; replace this placeholder manually", el.Kind)
	}
	return &node, nil
}

// checkoutTarget folds a self-repository checkout back to the "self"
// shorthand; access tokens are never exported.
func checkoutTarget(spec *model.CheckoutSpec) string {
	if spec == nil {
		return "self"
	}
	if spec.AuthType == "ACCESS_TOKEN" {
		return "self"
	}
	return spec.RepoURL
}

func (e *exporter) rewrite(text string) string {
	return vars.RewriteExportRefs(text, e.owners)
}

func (e *exporter) rewriteInputs(inputs map[string]any) map[string]any {
	if len(inputs) == 0 {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		switch val := v.(type) {
		case string:
			out[k] = e.rewrite(val)
		case []any:
			list := make([]any, len(val))
			for i, item := range val {
				if s, ok := item.(string); ok {
					list[i] = e.rewrite(s)
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

func banner(meta Meta) string {
	ts := meta.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString("# =====================================================\n")
	fmt.Fprintf(&b, "# projectId: %s\n", meta.ProjectID)
	fmt.Fprintf(&b, "# pipelineId: %s\n", meta.PipelineID)
	fmt.Fprintf(&b, "# pipelineName: %s\n", meta.PipelineName)
	fmt.Fprintf(&b, "# exportTime: %s\n", ts.UTC().Format(time.RFC3339))
	b.WriteString("# Generated from the stored pipeline model. Review before use:\n")
	b.WriteString("# credentials and access tokens are never exported and must be\n")
	b.WriteString("# reconfigured in the target project.\n")
	b.WriteString("# =====================================================\n")
	return b.String()
}
