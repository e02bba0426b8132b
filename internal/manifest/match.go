package manifest

import (
	"regexp"
	"strings"
)

// MatchContext describes the incoming event attributes checked against
// trigger rules.
type MatchContext struct {
	Branch       string // push: branch name; mr: target branch
	Tag          string
	User         string
	ChangedFiles []string
}

// MatchPush reports whether a push event passes the rule's allow and ignore
// filters. A nil rule never matches.
func (t *TriggerOn) MatchPush(ctx MatchContext) bool {
	if t == nil || t.Push == nil {
		return false
	}
	r := t.Push
	if matchesAny(r.BranchesIgnore, ctx.Branch) {
		return false
	}
	if matchesAny(r.UsersIgnore, ctx.User) {
		return false
	}
	if len(r.Branches) > 0 && !matchesAny(r.Branches, ctx.Branch) {
		return false
	}
	if len(r.Users) > 0 && !matchesAny(r.Users, ctx.User) {
		return false
	}
	if len(r.PathsIgnore) > 0 && len(ctx.ChangedFiles) > 0 && allMatchPath(r.PathsIgnore, ctx.ChangedFiles) {
		return false
	}
	if len(r.Paths) > 0 && !matchesAnyPath(r.Paths, ctx.ChangedFiles) {
		return false
	}
	return true
}

// MatchTag reports whether a tag push event passes the rule.
func (t *TriggerOn) MatchTag(ctx MatchContext) bool {
	if t == nil || t.Tag == nil {
		return false
	}
	r := t.Tag
	if matchesAny(r.TagsIgnore, ctx.Tag) {
		return false
	}
	if matchesAny(r.UsersIgnore, ctx.User) {
		return false
	}
	if len(r.Tags) > 0 && !matchesAny(r.Tags, ctx.Tag) {
		return false
	}
	if len(r.Users) > 0 && !matchesAny(r.Users, ctx.User) {
		return false
	}
	return true
}

// MatchMR reports whether a merge-request event passes the rule. Branch in
// the context is the MR target branch; SourceBranch is checked against the
// ignore list only.
func (t *TriggerOn) MatchMR(ctx MatchContext, sourceBranch string) bool {
	if t == nil || t.MR == nil {
		return false
	}
	r := t.MR
	if matchesAny(r.SourceBranchesIgnore, sourceBranch) {
		return false
	}
	if matchesAny(r.UsersIgnore, ctx.User) {
		return false
	}
	if len(r.TargetBranches) > 0 && !matchesAny(r.TargetBranches, ctx.Branch) {
		return false
	}
	if len(r.Users) > 0 && !matchesAny(r.Users, ctx.User) {
		return false
	}
	if len(r.Paths) > 0 && !matchesAnyPath(r.Paths, ctx.ChangedFiles) {
		return false
	}
	return true
}

func matchesAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if wildcardMatch(p, value) {
			return true
		}
	}
	return false
}

func matchesAnyPath(patterns []string, files []string) bool {
	for _, f := range files {
		if matchesAny(patterns, f) {
			return true
		}
	}
	return false
}

// allMatchPath reports whether every changed file matches one of the
// patterns. Used for paths-ignore: the event is skipped only when nothing
// outside the ignored paths changed.
func allMatchPath(patterns []string, files []string) bool {
	for _, f := range files {
		if !matchesAny(patterns, f) {
			return false
		}
	}
	return true
}

// wildcardMatch matches value against a pattern where * spans any run of
// characters, anchored at both ends. Patterns are user input; anything that
// fails to build a regexp falls back to literal comparison.
func wildcardMatch(pattern, value string) bool {
	if pattern == matchAll {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return pattern == value
	}
	return re.MatchString(value)
}
