// Package vars implements ${{ }} variable interpolation for the scripted
// YAML dialect, and the single-curly ${} reference rewrite used on export.
package vars

import (
	"regexp"
	"strings"
)

var (
	// doubleCurly matches ${{ name }} tokens, non-greedy.
	doubleCurly = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

	// singleCurly matches ${name} tokens on the export path. Double-curly
	// tokens are excluded up front so both syntaxes can coexist in a value.
	singleCurly = regexp.MustCompile(`\$\{([^{}]+)\}`)
)

// Interpolate replaces every ${{ name }} token with bindings[name].
// Missing or nil bindings resolve to the empty string: unresolved references
// are dropped rather than failing the compile, since step-output references
// are re-resolved at execution time by the dispatch layer.
func Interpolate(template string, bindings map[string]*string) string {
	return doubleCurly.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(doubleCurly.FindStringSubmatch(match)[1])
		if v, ok := bindings[name]; ok && v != nil {
			return *v
		}
		return ""
	})
}

// InterpolateValues is Interpolate for plain string bindings.
func InterpolateValues(template string, bindings map[string]string) string {
	return doubleCurly.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(doubleCurly.FindStringSubmatch(match)[1])
		return bindings[name]
	})
}

// RewriteExportRefs rewrites ${key} references to their canonical exported
// form: steps.<stepID>.outputs.<key> when key names the declared output of a
// prior step, variables.<key> otherwise. Already-canonical references are
// left untouched, so the rewrite is idempotent.
func RewriteExportRefs(text string, outputOwners map[string]string) string {
	return singleCurly.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.TrimSpace(singleCurly.FindStringSubmatch(match)[1])
		if strings.HasPrefix(key, "steps.") || strings.HasPrefix(key, "variables.") {
			return "${{ " + key + " }}"
		}
		if owner, ok := outputOwners[key]; ok {
			return "${{ steps." + owner + ".outputs." + key + " }}"
		}
		return "${{ variables." + key + " }}"
	})
}
