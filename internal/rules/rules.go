// Package rules implements the Rules Engine referenced by spec §4.10.a.7:
// when a tool touches a file path, matching path-scoped rule files are
// looked up and their names surfaced as a RulesActivated event and folded
// into the dynamic rules-summary system-prompt block (spec §4.9). Grounded
// on the teacher's internal/permission glob-matching idiom (deny/allow
// rule patterns matched via filepath.Match plus a "**"-aware fallback) and
// on its tool-approval-config pattern shape (internal/config ApprovalConfig).
package rules

import (
	"path/filepath"
	"sort"
	"strings"
)

// Rule binds a glob path pattern to the rule file whose content should be
// surfaced once a touched path matches it.
type Rule struct {
	Name     string
	PathGlob string
	Content  string
}

// Engine matches touched file paths against a fixed set of rules loaded at
// construction (read-once, per spec §9's "global state read-once at init"
// design note — a rule set is immutable for the life of a run).
type Engine struct {
	rules []Rule
}

// New constructs an Engine over rules. Order is preserved for deterministic
// RulesActivated.rule_names ordering.
func New(rules []Rule) *Engine {
	return &Engine{rules: append([]Rule(nil), rules...)}
}

// Match returns every rule whose PathGlob matches path, in registration
// order, and whether any matched.
func (e *Engine) Match(path string) ([]Rule, bool) {
	var matched []Rule
	for _, r := range e.rules {
		if globMatch(r.PathGlob, path) {
			matched = append(matched, r)
		}
	}
	return matched, len(matched) > 0
}

// Summary concatenates the content of every rule whose name is in names,
// in the order rules were registered, for rebuilding the dynamic
// rules-summary system-prompt block after a RulesActivated event.
func (e *Engine) Summary(names []string) string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var parts []string
	for _, r := range e.rules {
		if want[r.Name] {
			parts = append(parts, r.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Names extracts the sorted, deduplicated rule names from a Match result,
// the shape spec §4.10.a.7's RulesActivated.rule_names wants.
func Names(rules []Rule) []string {
	seen := make(map[string]bool, len(rules))
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}

// globMatch supports "*" single-segment wildcards via filepath.Match and a
// "**" any-depth-prefix fallback, matching the permission package's
// pattern-matching idiom.
func globMatch(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" || pattern == "**" {
		return true
	}
	if ok, err := filepath.Match(pattern, path); err == nil && ok {
		return true
	}
	if strings.Contains(pattern, "**") {
		prefix := strings.SplitN(pattern, "**", 2)[0]
		return strings.HasPrefix(path, prefix)
	}
	base := filepath.Base(path)
	if ok, err := filepath.Match(pattern, base); err == nil && ok {
		return true
	}
	return false
}
