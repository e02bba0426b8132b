package compiler

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/streamci/streamci/internal/event"
	"github.com/streamci/streamci/internal/manifest"
	"github.com/streamci/streamci/internal/model"
)

type stubMarketplace struct {
	installed []string
	err       error
}

func (s *stubMarketplace) InstallAtom(_ context.Context, _, _, atomCode string) error {
	s.installed = append(s.installed, atomCode)
	return s.err
}

type stubTokens struct {
	token string
	err   error
}

func (s *stubTokens) GetToken(context.Context, int64) (string, error) {
	return s.token, s.err
}

func testInput(t *testing.T, yaml string) Input {
	t.Helper()
	m, err := manifest.Normalize(yaml)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	ev := event.Manual(42, "alice", "main")
	return Input{
		Manifest:    m,
		Event:       ev,
		ProjectCode: "git_42",
		RepoURL:     "https://git.example.com/org/repo.git",
		UserID:      "alice",
	}
}

func newCompiler() (*Compiler, *stubMarketplace, *stubTokens) {
	mp := &stubMarketplace{}
	tk := &stubTokens{token: "oauth-token"}
	return New(mp, tk), mp, tk
}

func TestCompileMinimalPipeline(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
name: demo
stages:
  - jobs:
      job1:
        steps:
          - run: echo hi
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(m.Stages) != 2 {
		t.Fatalf("stages = %d, want 2 (trigger + job1)", len(m.Stages))
	}

	trigger := m.Stages[0]
	if len(trigger.Containers) != 1 || len(trigger.Containers[0].Elements) != 1 {
		t.Fatalf("trigger stage shape = %+v", trigger)
	}
	if trigger.Containers[0].Elements[0].Kind != model.ElementManualTrigger {
		t.Errorf("trigger element = %s", trigger.Containers[0].Elements[0].Kind)
	}

	work := m.Stages[1]
	if len(work.Containers) != 1 {
		t.Fatalf("containers = %d", len(work.Containers))
	}
	job := work.Containers[0]
	if job.BaseOS != model.OSLinux {
		t.Errorf("baseOS = %s, want LINUX", job.BaseOS)
	}
	if job.Dispatch.Type != model.DispatchDocker {
		t.Errorf("dispatch = %s, want DOCKER", job.Dispatch.Type)
	}
	if len(job.Elements) != 1 || job.Elements[0].Script != "echo hi" {
		t.Errorf("elements = %+v", job.Elements)
	}
	if job.Elements[0].Kind != model.ElementLinuxScript {
		t.Errorf("element kind = %s", job.Elements[0].Kind)
	}
}

func TestCompileTimerTrigger(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
triggerOn:
  schedules:
    cron: "0 2 * * *"
steps:
  - run: make nightly
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	els := m.Stages[0].Containers[0].Elements
	if len(els) != 2 {
		t.Fatalf("trigger elements = %d, want manual + timer", len(els))
	}
	if els[1].Kind != model.ElementTimerTrigger || els[1].Cron != "0 2 * * *" {
		t.Errorf("timer element = %+v", els[1])
	}
}

func TestCompileInvalidCron(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
triggerOn:
  schedules:
    cron: "not a cron"
steps:
  - run: make
`)

	_, err := c.Compile(context.Background(), in)
	var verr *manifest.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestStartParamsAndVariableOrder(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
variables:
  target:
    value: "${{ ci.branch }}"
  greeting:
    value: "hello ${{ target }} from ${{ ci.actor }}"
  forward:
    value: "${{ later }}"
  later:
    value: "x"
steps:
  - run: echo
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// event parameters come first so variables can reference them
	if first := m.Stages[0].Params[0].Key; first != event.ParamEventType {
		t.Errorf("first param = %q, want %q", first, event.ParamEventType)
	}

	params := map[string]string{}
	for _, p := range m.Stages[0].Params {
		params[p.Key] = p.Value
	}
	if params["target"] != "main" {
		t.Errorf("target = %q, want webhook branch", params["target"])
	}
	if params["greeting"] != "hello main from alice" {
		t.Errorf("greeting = %q", params["greeting"])
	}
	// forward reference to a later variable resolves to empty
	if params["forward"] != "" {
		t.Errorf("forward = %q, want empty", params["forward"])
	}
}

func TestScriptInterpolation(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
steps:
  - run: "echo ${{ ci.branch }}"
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	script := m.Stages[1].Containers[0].Elements[0].Script
	if script != "echo main" {
		t.Errorf("script = %q", script)
	}
}

func TestResolveDispatch(t *testing.T) {
	cases := []struct {
		name     string
		runsOn   manifest.RunsOn
		wantType model.DispatchType
		wantOS   model.BaseOS
		wantErr  bool
	}{
		{name: "default docker", runsOn: manifest.RunsOn{}, wantType: model.DispatchDocker, wantOS: model.OSLinux},
		{name: "docker with image", runsOn: manifest.RunsOn{PoolName: "docker", Container: "golang:1.25"}, wantType: model.DispatchDocker, wantOS: model.OSLinux},
		{name: "macos", runsOn: manifest.RunsOn{PoolName: "macos", SystemVersion: "14.1"}, wantType: model.DispatchMacOS, wantOS: model.OSMacOS},
		{name: "agentless", runsOn: manifest.RunsOn{PoolName: "agentless"}, wantType: model.DispatchAgentless, wantOS: model.OSLinux},
		{name: "self hosted env", runsOn: manifest.RunsOn{PoolName: "self-hosted/build-farm"}, wantType: model.DispatchAgentEnv, wantOS: model.OSLinux},
		{name: "windows selector", runsOn: manifest.RunsOn{AgentSelector: []string{"windows"}}, wantType: model.DispatchDocker, wantOS: model.OSWindows},
		{name: "unknown pool", runsOn: manifest.RunsOn{PoolName: "mainframe"}, wantErr: true},
		{name: "empty env name", runsOn: manifest.RunsOn{PoolName: "self-hosted/"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, os, err := resolveDispatch(tc.runsOn)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveDispatch: %v", err)
			}
			if d.Type != tc.wantType {
				t.Errorf("type = %s, want %s", d.Type, tc.wantType)
			}
			if os != tc.wantOS {
				t.Errorf("os = %s, want %s", os, tc.wantOS)
			}
		})
	}

	d, _, err := resolveDispatch(manifest.RunsOn{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Image != defaultDockerImage {
		t.Errorf("default image = %q", d.Image)
	}
}

func TestMarketAtomStep(t *testing.T) {
	c, mp, _ := newCompiler()
	in := testInput(t, `
version: v2.0
steps:
  - uses: codecov@1.2.0
    with:
      token: "${{ ci.actor }}-token"
      flags:
        - unit
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	el := m.Stages[1].Containers[0].Elements[0]
	if el.Kind != model.ElementMarketAtom || el.AtomCode != "codecov" || el.AtomVersion != "1.2.0" {
		t.Errorf("atom element = %+v", el)
	}
	if el.Inputs["token"] != "alice-token" {
		t.Errorf("inputs = %+v", el.Inputs)
	}
	if len(mp.installed) != 1 || mp.installed[0] != "codecov" {
		t.Errorf("installed = %v", mp.installed)
	}
}

func TestMarketAtomMalformedUses(t *testing.T) {
	c, _, _ := newCompiler()
	for _, uses := range []string{"codecov", "codecov@", "@1.2.0"} {
		in := testInput(t, `
version: v2.0
steps:
  - uses: "`+uses+`"
`)
		if _, err := c.Compile(context.Background(), in); err == nil {
			t.Errorf("uses %q: expected error", uses)
		}
	}
}

func TestMarketAtomInstallFailureSwallowed(t *testing.T) {
	c, mp, _ := newCompiler()
	mp.err = errors.New("marketplace unavailable")
	in := testInput(t, `
version: v2.0
steps:
  - uses: codecov@1.2.0
`)

	if _, err := c.Compile(context.Background(), in); err != nil {
		t.Fatalf("install failure must not fail compile: %v", err)
	}
}

func TestCheckoutSelf(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
steps:
  - checkout: self
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	el := m.Stages[1].Containers[0].Elements[0]
	if el.Kind != model.ElementCheckout {
		t.Fatalf("kind = %s", el.Kind)
	}
	co := el.Checkout
	if co.RepoURL != "https://git.example.com/org/repo.git" {
		t.Errorf("repo url = %q", co.RepoURL)
	}
	if co.AccessToken != "oauth-token" || co.AuthType != "ACCESS_TOKEN" || co.RepoType != "URL" {
		t.Errorf("checkout spec = %+v", co)
	}
}

func TestCheckoutForeignURL(t *testing.T) {
	c, _, tk := newCompiler()
	tk.err = errors.New("should not be called")
	in := testInput(t, `
version: v2.0
steps:
  - checkout: https://github.com/other/repo.git
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	co := m.Stages[1].Containers[0].Elements[0].Checkout
	if co.RepoURL != "https://github.com/other/repo.git" || co.AccessToken != "" {
		t.Errorf("checkout spec = %+v", co)
	}
}

func TestCheckoutTokenFailure(t *testing.T) {
	c, _, tk := newCompiler()
	tk.token = ""
	tk.err = errors.New("oauth service down")
	in := testInput(t, `
version: v2.0
steps:
  - checkout: self
`)

	if _, err := c.Compile(context.Background(), in); err == nil {
		t.Fatal("expected token resolution error")
	}
}

func TestStepAndJobControlOptions(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
stages:
  - if: ci.branch == "main"
    fast-kill: true
    jobs:
      build:
        if: ci.actor != "bot"
        depend-on: [job-lint]
        timeout-minutes: 30
        continue-on-error: true
        steps:
          - run: make
            if: ci.branch == "main"
            retry-times: 3
            timeout-minutes: 10
            continue-on-error: true
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	stage := m.Stages[1]
	if stage.Condition == "" || !stage.FastKill {
		t.Errorf("stage control = %+v", stage)
	}

	job := stage.Containers[0]
	if job.Control.Condition == "" || job.Control.TimeoutMinutes != 30 || !job.Control.ContinueOnError {
		t.Errorf("job control = %+v", job.Control)
	}
	if !reflect.DeepEqual(job.Control.DependsOn, []string{"job-lint"}) {
		t.Errorf("depends-on = %v", job.Control.DependsOn)
	}

	opts := job.Elements[0].Options
	if !opts.EnableRetry || opts.RetryCount != 3 {
		t.Errorf("retry = %+v", opts)
	}
	if opts.RunCondition != model.RunWhenCustomMatch || opts.CustomCondition == "" {
		t.Errorf("run condition = %+v", opts)
	}
	if opts.TimeoutMinutes != 10 || !opts.ContinueOnError {
		t.Errorf("options = %+v", opts)
	}
}

func TestStepWithNoAction(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
steps:
  - name: empty
`)

	if _, err := c.Compile(context.Background(), in); err == nil {
		t.Fatal("expected error for step with no action")
	}
}

func TestFinallyStageOrdering(t *testing.T) {
	c, _, _ := newCompiler()
	in := testInput(t, `
version: v2.0
stages:
  - name: build
    jobs:
      build:
        steps:
          - run: make
finally:
  - name: cleanup
    jobs:
      clean:
        steps:
          - run: make clean
`)

	m, err := c.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(m.Stages) != 3 {
		t.Fatalf("stages = %d", len(m.Stages))
	}
	last := m.Stages[len(m.Stages)-1]
	if !last.Finally || last.Name != "cleanup" {
		t.Errorf("last stage = %+v", last)
	}
	if m.Stages[1].Finally {
		t.Error("ordinary stage marked finally")
	}
}

func TestCompileDeterministicWithExplicitIDs(t *testing.T) {
	c, _, _ := newCompiler()
	const doc = `
version: v2.0
name: demo
stages:
  - id: stage-one
    jobs:
      build:
        steps:
          - id: step-make
            run: make
`
	a, err := c.Compile(context.Background(), testInput(t, doc))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := c.Compile(context.Background(), testInput(t, doc))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("re-compiling fully-id'd YAML must be deterministic")
	}
}
