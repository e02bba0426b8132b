package manifest

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var variableNamePattern = regexp.MustCompile(`^[0-9a-zA-Z_]+$`)

const idSuffixLen = 7

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Normalize parses raw pipeline YAML into the canonical manifest form.
// Two rewrites happen before structural parsing: the legacy top-level `on:`
// key becomes `triggerOn:`, and anchors/merge keys are expanded by loading
// into a generic tree and re-serializing.
func Normalize(raw string) (*Manifest, error) {
	raw = rewriteLegacyTriggerKey(raw)

	expanded, err := resolveAnchors(raw)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	// Dialect dispatch: exactly "v2.0" selects the scripted binder, any
	// other marker (or none) the legacy structured binder. The two disagree
	// on extends, so this routes rather than falls back.
	if DetectVersion(expanded) == VersionV2 {
		return normalizeScripted(expanded)
	}
	return normalizeLegacy(expanded)
}

// normalizeScripted binds the v2.0 scripted dialect. extends is not part
// of the dialect, so any extends key is rejected before the shorthand
// exclusivity check even runs.
func normalizeScripted(expanded string) (*Manifest, error) {
	pre, err := decodePre(expanded)
	if err != nil {
		return nil, err
	}
	if pre.Extends != nil && !isNullNode(pre.Extends) {
		return nil, &ValidationError{Message: "extends is not part of the v2.0 dialect"}
	}
	if err := checkShorthands(pre); err != nil {
		return nil, err
	}
	return bindManifest(pre, expanded)
}

// normalizeLegacy binds the versionless structured dialect, where extends
// is a recognized shorthand that nothing here can expand.
func normalizeLegacy(expanded string) (*Manifest, error) {
	pre, err := decodePre(expanded)
	if err != nil {
		return nil, err
	}
	if err := checkShorthands(pre); err != nil {
		return nil, err
	}
	return bindManifest(pre, expanded)
}

func decodePre(expanded string) (*preManifest, error) {
	var pre preManifest
	if err := yaml.Unmarshal([]byte(expanded), &pre); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid pipeline YAML: %v", err)}
	}
	return &pre, nil
}

// bindManifest converts the decoded document into the canonical model,
// retaining the expanded text it was bound from.
func bindManifest(pre *preManifest, expanded string) (*Manifest, error) {
	var err error
	m := &Manifest{
		Version:   pre.Version,
		Name:      pre.Name,
		Notices:   pre.Notices,
		Canonical: expanded,
	}

	m.TriggerOn, err = ResolveTriggerOn(pre.TriggerOn)
	if err != nil {
		return nil, err
	}

	m.Variables, err = decodeVariables(pre.Variables)
	if err != nil {
		return nil, err
	}

	m.Stages, err = canonicalStages(pre)
	if err != nil {
		return nil, err
	}

	if pre.Finally != nil && !isNullNode(pre.Finally) {
		m.Finally, err = decodeStages(pre.Finally)
		if err != nil {
			return nil, err
		}
	}

	assignIDs(m)

	if err := validateNotices(m.Notices); err != nil {
		return nil, err
	}
	return m, nil
}

// DetectVersion optimistically parses the version field of raw YAML.
// An unparseable document reports the legacy dialect.
func DetectVersion(raw string) string {
	var probe struct {
		Version string `yaml:"version"`
	}
	_ = yaml.Unmarshal([]byte(rewriteLegacyTriggerKey(raw)), &probe)
	return probe.Version
}

// rewriteLegacyTriggerKey substitutes the legacy top-level `on:` key with
// `triggerOn:`. The substitution is literal and line-level: only an
// unindented `on:` line is rewritten, so nested `on` mappings are untouched.
func rewriteLegacyTriggerKey(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if line == "on:" || strings.HasPrefix(line, "on: ") {
			lines[i] = "triggerOn:" + strings.TrimPrefix(line, "on:")
		}
	}
	return strings.Join(lines, "\n")
}

// resolveAnchors loads the document into a generic node tree, expands
// aliases and <<: merges, and re-serializes, so that strict-typed binding
// never sees anchors. The node-level walk (rather than a map round trip)
// keeps mapping declaration order, which variable evaluation depends on.
func resolveAnchors(raw string) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return "", err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return "", fmt.Errorf("empty document")
	}
	expanded := expandNode(doc.Content[0])
	out, err := yaml.Marshal(expanded)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// expandNode returns a copy of n with alias nodes replaced by their targets
// and merge keys flattened. Explicit keys win over merged keys.
func expandNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.AliasNode:
		return expandNode(n.Alias)

	case yaml.SequenceNode:
		out := *n
		out.Anchor = ""
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = expandNode(c)
		}
		return &out

	case yaml.MappingNode:
		out := *n
		out.Anchor = ""
		out.Content = nil

		var own, merged []*yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if key.Tag == "!!merge" || key.Value == "<<" {
				mv := expandNode(value)
				switch mv.Kind {
				case yaml.MappingNode:
					merged = append(merged, mv.Content...)
				case yaml.SequenceNode:
					for _, item := range mv.Content {
						if mi := expandNode(item); mi.Kind == yaml.MappingNode {
							merged = append(merged, mi.Content...)
						}
					}
				}
				continue
			}
			own = append(own, expandNode(key), expandNode(value))
		}

		seen := make(map[string]bool, len(own)/2)
		for i := 0; i+1 < len(own); i += 2 {
			seen[own[i].Value] = true
		}
		for i := 0; i+1 < len(merged); i += 2 {
			if !seen[merged[i].Value] {
				out.Content = append(out.Content, merged[i], merged[i+1])
				seen[merged[i].Value] = true
			}
		}
		out.Content = append(out.Content, own...)
		return &out

	default:
		out := *n
		out.Anchor = ""
		return &out
	}
}

// checkShorthands enforces that exactly one of the mutually exclusive
// top-level shorthands is present.
func checkShorthands(pre *preManifest) error {
	count := 0
	if len(pre.Steps) > 0 {
		count++
	}
	if pre.Jobs != nil && !isNullNode(pre.Jobs) {
		count++
	}
	if len(pre.Stages) > 0 {
		count++
	}
	hasExtends := pre.Extends != nil && !isNullNode(pre.Extends)
	if hasExtends && count > 0 {
		return &ValidationError{Message: "extend, stages, jobs, steps cannot coexist"}
	}
	if count > 1 {
		return &ValidationError{Message: "extend, stages, jobs, steps cannot coexist"}
	}
	if hasExtends {
		return &ValidationError{Message: "extends templates are not supported"}
	}
	if count == 0 {
		return &ValidationError{Message: "pipeline must declare one of steps, jobs, stages"}
	}
	return nil
}

// canonicalStages reduces the three shorthands to the full stages form:
// a flat steps list implies one stage with one job; a jobs map implies one
// stage; a stages list is taken as-is.
func canonicalStages(pre *preManifest) ([]Stage, error) {
	switch {
	case len(pre.Steps) > 0:
		return []Stage{{
			Jobs: []Job{{Steps: pre.Steps}},
		}}, nil

	case pre.Jobs != nil && !isNullNode(pre.Jobs):
		jobs, err := decodeJobs(pre.Jobs)
		if err != nil {
			return nil, err
		}
		return []Stage{{Jobs: jobs}}, nil

	case len(pre.Stages) > 0:
		stages := make([]Stage, 0, len(pre.Stages))
		for i, ps := range pre.Stages {
			jobs, err := decodeJobs(ps.Jobs)
			if err != nil {
				return nil, validationErrorf("stages[%d]: %v", i, err)
			}
			stages = append(stages, Stage{
				ID:       ps.ID,
				Name:     ps.Name,
				If:       ps.If,
				FastKill: ps.FastKill,
				Jobs:     jobs,
			})
		}
		return stages, nil
	}
	return nil, nil
}

func decodeStages(node *yaml.Node) ([]Stage, error) {
	var pres []preStage
	if err := node.Decode(&pres); err != nil {
		return nil, validationErrorf("invalid finally stages: %v", err)
	}
	stages := make([]Stage, 0, len(pres))
	for i, ps := range pres {
		jobs, err := decodeJobs(ps.Jobs)
		if err != nil {
			return nil, validationErrorf("finally[%d]: %v", i, err)
		}
		stages = append(stages, Stage{
			ID:       ps.ID,
			Name:     ps.Name,
			If:       ps.If,
			FastKill: ps.FastKill,
			Jobs:     jobs,
		})
	}
	return stages, nil
}

// decodeJobs binds a jobs mapping, keeping declaration order and resolving
// the dual-shape runs-on field per job.
func decodeJobs(node *yaml.Node) ([]Job, error) {
	if node == nil || isNullNode(node) {
		return nil, fmt.Errorf("jobs section is empty")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("jobs must be a mapping of id to job")
	}

	jobs := make([]Job, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var pj preJob
		if err := node.Content[i+1].Decode(&pj); err != nil {
			return nil, fmt.Errorf("job %q: %w", key, err)
		}
		runsOn, err := resolveRunsOn(pj.RunsOn)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", key, err)
		}
		jobs = append(jobs, Job{
			ID:              key,
			Name:            pj.Name,
			If:              pj.If,
			DependOn:        pj.DependOn,
			RunsOn:          runsOn,
			Steps:           pj.Steps,
			ContinueOnError: pj.ContinueOnError,
			TimeoutMinutes:  pj.TimeoutMinutes,
		})
	}
	return jobs, nil
}

// resolveRunsOn accepts either a bare pool-name string or the structured
// object form.
func resolveRunsOn(node *yaml.Node) (RunsOn, error) {
	if node == nil || isNullNode(node) {
		return RunsOn{}, nil
	}
	if node.Kind == yaml.ScalarNode {
		return RunsOn{PoolName: node.Value}, nil
	}
	var structured RunsOn
	if err := node.Decode(&structured); err != nil {
		return RunsOn{}, fmt.Errorf("invalid runs-on: %w", err)
	}
	return structured, nil
}

// decodeVariables binds the variables mapping preserving declaration order.
// Values may be a bare scalar or an object with a value field.
func decodeVariables(node *yaml.Node) ([]Variable, error) {
	if node == nil || isNullNode(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, &ValidationError{Message: "variables must be a mapping"}
	}

	vars := make([]Variable, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if !variableNamePattern.MatchString(name) {
			return nil, validationErrorf("variable name %q is invalid: only letters, digits and underscore are allowed", name)
		}
		value, err := decodeVariableValue(node.Content[i+1])
		if err != nil {
			return nil, validationErrorf("variable %q: %v", name, err)
		}
		vars = append(vars, Variable{Name: name, Value: value})
	}
	return vars, nil
}

func decodeVariableValue(node *yaml.Node) (string, error) {
	if node.Kind == yaml.ScalarNode {
		return node.Value, nil
	}
	var structured struct {
		Value string `yaml:"value"`
	}
	if err := node.Decode(&structured); err != nil {
		return "", fmt.Errorf("invalid value: %w", err)
	}
	return structured.Value, nil
}

func validateNotices(notices []Notice) error {
	for _, n := range notices {
		switch n.Type {
		case NoticeEmail, NoticeWeworkMsg, NoticeWeworkChat:
		default:
			return validationErrorf("notice type %q is not supported", n.Type)
		}
	}
	return nil
}

// assignIDs synthesizes short random ids for any stage, job or step that
// omits one. Ids are prefix + 7 random alphanumerics: practically unique
// within one compiled model, not globally.
func assignIDs(m *Manifest) {
	for si := range m.Stages {
		assignStageIDs(&m.Stages[si])
	}
	for si := range m.Finally {
		assignStageIDs(&m.Finally[si])
	}
}

func assignStageIDs(s *Stage) {
	if s.ID == "" {
		s.ID = randomID("stage-")
	}
	for ji := range s.Jobs {
		j := &s.Jobs[ji]
		if j.ID == "" {
			j.ID = randomID("job-")
		}
		for sti := range j.Steps {
			if j.Steps[sti].ID == "" {
				j.Steps[sti].ID = randomID("step-")
			}
		}
	}
}

func randomID(prefix string) string {
	b := make([]byte, idSuffixLen)
	for i := range b {
		b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return prefix + string(b)
}

func isNullNode(node *yaml.Node) bool {
	return node == nil || node.Kind == 0 || node.Tag == "!!null"
}
