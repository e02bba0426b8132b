package manifest

import (
	"gopkg.in/yaml.v3"

	"github.com/streamci/streamci/internal/log"
)

// matchAll is the wildcard used when the caller supplies no trigger rules.
const matchAll = "*"

// ResolveTriggerOn normalizes the raw trigger section into a TriggerOn
// descriptor. Each of push/tag/mr accepts two authoring shapes: the full
// structured rule object, or a bare list of strings mapped onto the single
// most relevant field. A section that parses as neither degrades to its
// zero-value rule rather than aborting the compile.
func ResolveTriggerOn(node *yaml.Node) (*TriggerOn, error) {
	if isNullNode(node) {
		return defaultTriggerOn(), nil
	}

	var sections struct {
		Push      *yaml.Node `yaml:"push"`
		Tag       *yaml.Node `yaml:"tag"`
		MR        *yaml.Node `yaml:"mr"`
		Schedules *Schedule  `yaml:"schedules"`
	}
	if err := node.Decode(&sections); err != nil {
		return nil, validationErrorf("invalid triggerOn section: %v", err)
	}

	on := &TriggerOn{Schedules: sections.Schedules}

	if !isNullNode(sections.Push) {
		rule := &PushRule{}
		if shorthand, ok := tryShorthandList(sections.Push); ok {
			rule.Branches = shorthand
		} else if err := sections.Push.Decode(rule); err != nil {
			log.Warn("push trigger rule did not parse, using empty rule", "error", err)
			rule = &PushRule{}
		}
		on.Push = rule
	}

	if !isNullNode(sections.Tag) {
		rule := &TagRule{}
		if shorthand, ok := tryShorthandList(sections.Tag); ok {
			rule.Tags = shorthand
		} else if err := sections.Tag.Decode(rule); err != nil {
			log.Warn("tag trigger rule did not parse, using empty rule", "error", err)
			rule = &TagRule{}
		}
		on.Tag = rule
	}

	if !isNullNode(sections.MR) {
		rule := &MrRule{}
		if shorthand, ok := tryShorthandList(sections.MR); ok {
			rule.TargetBranches = shorthand
		} else if err := sections.MR.Decode(rule); err != nil {
			log.Warn("mr trigger rule did not parse, using empty rule", "error", err)
			rule = &MrRule{}
		}
		on.MR = rule
	}

	if on.Push == nil && on.Tag == nil && on.MR == nil && on.Schedules == nil {
		return defaultTriggerOn(), nil
	}
	return on, nil
}

// tryShorthandList reports whether the node is a bare list of strings,
// returning it if so. This is the explicit shape probe that replaces
// exception-driven fallback parsing.
func tryShorthandList(node *yaml.Node) ([]string, bool) {
	if node.Kind != yaml.SequenceNode {
		return nil, false
	}
	var out []string
	if err := node.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

// defaultTriggerOn matches everything: push branches *, tag *, mr target *.
func defaultTriggerOn() *TriggerOn {
	return &TriggerOn{
		Push: &PushRule{Branches: []string{matchAll}},
		Tag:  &TagRule{Tags: []string{matchAll}},
		MR:   &MrRule{TargetBranches: []string{matchAll}},
	}
}
