// Package model defines the canonical compiled pipeline object graph:
// ordered stages containing containers containing elements. It is the
// strictly-typed internal representation handed to the pipeline engine,
// independent of which YAML dialect produced it.
package model

// Model is a compiled pipeline. Stage 0 is always the trigger stage; the
// last stage may be marked Finally and runs regardless of prior outcomes.
type Model struct {
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// Stage is a sequential phase of the pipeline.
type Stage struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	Finally    bool        `json:"finally,omitempty"`
	FastKill   bool        `json:"fastKill,omitempty"`
	Condition  string      `json:"condition,omitempty"`
	Params     []Param     `json:"params,omitempty"` // populated on the trigger stage only
	Containers []Container `json:"containers"`
}

// Param is a resolved build start parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Container is a unit of execution within a stage: either a VM-build
// container with a resolved dispatch target, or a no-build-env container.
type Container struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	BaseOS   BaseOS     `json:"baseOS,omitempty"`
	Dispatch Dispatch   `json:"dispatch"`
	Control  JobControl `json:"control"`
	Elements []Element  `json:"elements"`
}

// BuildEnv reports whether the container needs a provisioned build machine.
func (c Container) BuildEnv() bool {
	return c.Dispatch.Type != DispatchAgentless
}

// BaseOS identifies the operating system family of a VM-build container.
type BaseOS string

const (
	OSLinux   BaseOS = "LINUX"
	OSWindows BaseOS = "WINDOWS"
	OSMacOS   BaseOS = "MACOS"
)

// DispatchType is the resolved execution target kind for a container.
type DispatchType string

const (
	DispatchDocker    DispatchType = "DOCKER"
	DispatchMacOS     DispatchType = "MACOS"
	DispatchAgentEnv  DispatchType = "THIRD_PARTY_AGENT_ENV"
	DispatchAgentless DispatchType = "AGENT_LESS"
)

// Dispatch carries the execution target of a container. Only the fields
// relevant to Type are set.
type Dispatch struct {
	Type          DispatchType `json:"type"`
	Image         string       `json:"image,omitempty"`
	Credential    string       `json:"credential,omitempty"`
	AgentEnvName  string       `json:"agentEnvName,omitempty"`
	SystemVersion string       `json:"systemVersion,omitempty"`
	XcodeVersion  string       `json:"xcodeVersion,omitempty"`
}

// JobControl mirrors step-level options at job granularity.
type JobControl struct {
	Condition       string   `json:"condition,omitempty"` // custom run-condition, empty means default
	DependsOn       []string `json:"dependsOn,omitempty"` // user-assigned job ids
	ContinueOnError bool     `json:"continueOnError,omitempty"`
	TimeoutMinutes  int      `json:"timeoutMinutes,omitempty"`
}

// ElementKind discriminates the element union.
type ElementKind string

const (
	ElementManualTrigger ElementKind = "manualTrigger"
	ElementTimerTrigger  ElementKind = "timerTrigger"
	ElementLinuxScript   ElementKind = "linuxScript"
	ElementWindowsScript ElementKind = "windowsScript"
	ElementCheckout      ElementKind = "checkout"
	ElementMarketAtom    ElementKind = "marketAtom"
)

// Element is the smallest unit of work within a container. Exactly the
// fields relevant to Kind are set; the zero values of the rest are ignored
// by the engine.
type Element struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Kind ElementKind `json:"kind"`

	Script      string         `json:"script,omitempty"`      // linuxScript / windowsScript
	Cron        string         `json:"cron,omitempty"`        // timerTrigger
	AtomCode    string         `json:"atomCode,omitempty"`    // marketAtom
	AtomVersion string         `json:"atomVersion,omitempty"` // marketAtom
	Inputs      map[string]any `json:"inputs,omitempty"`      // marketAtom
	Outputs     []string       `json:"outputs,omitempty"`     // declared output names
	Checkout    *CheckoutSpec  `json:"checkout,omitempty"`    // checkout

	Options ElementOptions `json:"options"`
}

// CheckoutSpec carries the resolved source-fetch settings of a checkout step.
type CheckoutSpec struct {
	RepoURL     string `json:"repoUrl"`
	Ref         string `json:"ref,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	RepoType    string `json:"repoType"` // fixed: "URL"
	AuthType    string `json:"authType"` // fixed: "ACCESS_TOKEN" for self checkout
}

// RunCondition is an element run-condition policy.
type RunCondition string

const (
	// RunWhenPreSucceeded is the default: run when the previous step succeeded.
	RunWhenPreSucceeded RunCondition = "PRE_TASK_SUCCESS"
	// RunWhenCustomMatch runs when the custom condition expression matches.
	RunWhenCustomMatch RunCondition = "CUSTOM_CONDITION_MATCH"
)

// ElementOptions are the derived additional options of a step.
type ElementOptions struct {
	ContinueOnError bool         `json:"continueOnError,omitempty"`
	TimeoutMinutes  int          `json:"timeoutMinutes,omitempty"`
	EnableRetry     bool         `json:"enableRetry,omitempty"`
	RetryCount      int          `json:"retryCount,omitempty"`
	RunCondition    RunCondition `json:"runCondition"`
	CustomCondition string       `json:"customCondition,omitempty"`
}

// TriggerStage returns the trigger stage, or nil for an empty model.
func (m *Model) TriggerStage() *Stage {
	if len(m.Stages) == 0 {
		return nil
	}
	return &m.Stages[0]
}
