// Package manifest parses user-supplied pipeline YAML (two schema dialects)
// and normalizes it into a single canonical form consumed by the compiler.
package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Version markers. Anything other than VersionV2 selects the legacy
// structured dialect; this is a dispatch decision, not a fallback.
const VersionV2 = "v2.0"

// Notice types accepted by notice validation.
const (
	NoticeEmail      = "email"
	NoticeWeworkMsg  = "wework-message"
	NoticeWeworkChat = "wework-chat"
)

// preManifest is the permissive top-level shape shared by both dialects.
// Dual-shape sections (triggerOn, variables) stay as yaml.Node until the
// dedicated resolvers bind them.
type preManifest struct {
	Version   string     `yaml:"version"`
	Name      string     `yaml:"name"`
	TriggerOn *yaml.Node `yaml:"triggerOn"`
	Variables *yaml.Node `yaml:"variables"`
	Extends   *yaml.Node `yaml:"extends"`
	Steps     []Step     `yaml:"steps"`
	Jobs      *yaml.Node `yaml:"jobs"`
	Stages    []preStage `yaml:"stages"`
	Finally   *yaml.Node `yaml:"finally"`
	Notices   []Notice   `yaml:"notices"`
}

type preStage struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	If       string     `yaml:"if"`
	FastKill bool       `yaml:"fast-kill"`
	Jobs     *yaml.Node `yaml:"jobs"`
}

// preJob carries the dual-shape runs-on field unbound.
type preJob struct {
	Name            string     `yaml:"name"`
	If              string     `yaml:"if"`
	DependOn        []string   `yaml:"depend-on"`
	RunsOn          *yaml.Node `yaml:"runs-on"`
	Steps           []Step     `yaml:"steps"`
	ContinueOnError bool       `yaml:"continue-on-error"`
	TimeoutMinutes  int        `yaml:"timeout-minutes"`
}

// Manifest is the canonical normalized pipeline definition. Canonical
// holds the anchor-expanded, key-rewritten YAML text the manifest was
// bound from; build records persist it next to the author's original.
type Manifest struct {
	Version   string
	Name      string
	TriggerOn *TriggerOn
	Variables []Variable
	Stages    []Stage
	Finally   []Stage
	Notices   []Notice
	Canonical string
}

// Variable is a declared pipeline variable. Declaration order is preserved
// because later variables may reference earlier ones.
type Variable struct {
	Name  string
	Value string
}

// Stage is a canonical stage: a named ordered list of jobs.
type Stage struct {
	ID       string
	Name     string
	If       string
	FastKill bool
	Jobs     []Job
}

// Job is a canonical job with a resolved execution target.
type Job struct {
	ID              string
	Name            string
	If              string
	DependOn        []string
	RunsOn          RunsOn
	Steps           []Step
	ContinueOnError bool
	TimeoutMinutes  int
}

// RunsOn is the tagged union of the two authoring shapes for a job's
// execution target: a bare pool-name string, or the structured object.
type RunsOn struct {
	PoolName      string   `yaml:"pool-name"`
	Container     string   `yaml:"container"`
	Credential    string   `yaml:"credential"`
	AgentSelector []string `yaml:"agent-selector"`
	SystemVersion string   `yaml:"system-version"`
	XcodeVersion  string   `yaml:"xcode-version"`
}

// Step is a single unit of work. Exactly one of Uses / Run / Checkout is
// expected to be set.
type Step struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	If              string         `yaml:"if"`
	Uses            string         `yaml:"uses"`
	Run             string         `yaml:"run"`
	Checkout        string         `yaml:"checkout"`
	With            map[string]any `yaml:"with"`
	Outputs         []string       `yaml:"outputs"`
	ContinueOnError bool           `yaml:"continue-on-error"`
	TimeoutMinutes  int            `yaml:"timeout-minutes"`
	RetryTimes      int            `yaml:"retry-times"`
}

// Notice is a pipeline result notification target.
type Notice struct {
	Type      string   `yaml:"type"`
	Receivers []string `yaml:"receivers"`
}

// TriggerOn is the normalized trigger rule descriptor.
type TriggerOn struct {
	Push      *PushRule
	Tag       *TagRule
	MR        *MrRule
	Schedules *Schedule
}

// PushRule filters push events.
type PushRule struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
	Paths          []string `yaml:"paths"`
	PathsIgnore    []string `yaml:"paths-ignore"`
	Users          []string `yaml:"users"`
	UsersIgnore    []string `yaml:"users-ignore"`
}

// TagRule filters tag push events.
type TagRule struct {
	Tags        []string `yaml:"tags"`
	TagsIgnore  []string `yaml:"tags-ignore"`
	Users       []string `yaml:"users"`
	UsersIgnore []string `yaml:"users-ignore"`
}

// MrRule filters merge request events.
type MrRule struct {
	TargetBranches       []string `yaml:"target-branches"`
	SourceBranchesIgnore []string `yaml:"source-branches-ignore"`
	Paths                []string `yaml:"paths"`
	PathsIgnore          []string `yaml:"paths-ignore"`
	Users                []string `yaml:"users"`
	UsersIgnore          []string `yaml:"users-ignore"`
}

// Schedule is a cron-style trigger.
type Schedule struct {
	Cron     string   `yaml:"cron"`
	Branches []string `yaml:"branches"`
	Always   bool     `yaml:"always"`
}

// ValidationError is a user-facing bad-request failure raised for malformed
// or contradictory manifest input. It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
