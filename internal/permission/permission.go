// Package permission implements the Permission Engine: mode-aware glob
// matching over allow/deny rules deciding whether a proposed tool
// invocation may run, per spec §4.4. Matching idiom (name + "(" + args +
// ")" glob targets, deny-before-allow) is grounded on the teacher's tool
// approval configuration shape (internal/config ApprovalConfig).
package permission

import (
	"path/filepath"
	"strings"
)

// Mode selects the permission engine's default behavior when no explicit
// rule matches a tool invocation.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "accept_edits"
	ModeBypass      Mode = "bypass"
	ModePlan        Mode = "plan"
)

// planReadOnlyTools is the closed set of tools admitted in Plan mode,
// resolving spec §9's open question.
var planReadOnlyTools = map[string]bool{
	"Read": true, "Glob": true, "Grep": true, "Task": true, "TaskOutput": true,
}

// editTools are considered "edit" tools for AcceptEdits mode's default
// allow behavior.
var editTools = map[string]bool{
	"Write": true, "Edit": true, "MultiEdit": true, "NotebookEdit": true,
}

// Rule is one glob-pattern allow/deny entry. Pattern matches against
// "Name" or "Name(args)" where args is a tool-specific string
// (e.g. "Bash(git diff:*)", "mcp__server__*").
type Rule struct {
	Pattern string
	Deny    bool
}

// Engine evaluates rules against a proposed invocation under a Mode.
// Deny rules are checked before allow rules in registration order,
// satisfying spec §8 invariant 6.
type Engine struct {
	mode  Mode
	rules []Rule
}

// New constructs an Engine. allow/deny are glob pattern lists; deny always
// takes precedence regardless of list order within the Engine.
func New(mode Mode, allow, deny []string) *Engine {
	e := &Engine{mode: mode}
	for _, p := range deny {
		e.rules = append(e.rules, Rule{Pattern: p, Deny: true})
	}
	for _, p := range allow {
		e.rules = append(e.rules, Rule{Pattern: p, Deny: false})
	}
	return e
}

// Decision is the result of evaluating one invocation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Check decides whether tool may run with the given argument signature
// (an opaque per-tool string used for fine-grained matching, e.g. a shell
// command; empty string for tools with no sub-pattern granularity).
//
// Algorithm (spec §4.4):
//  1. Bypass mode -> always Allow.
//  2. Plan mode and tool not in the read-only set -> Deny.
//  3. First matching deny rule -> Deny.
//  4. First matching allow rule -> Allow.
//  5. Mode-specific default: AcceptEdits allows edit tools, denies others
//     needing approval; Default denies anything not explicitly allowed.
//
// "Ask" is represented as Deny at this layer — a caller wanting an
// interactive approval prompt intercepts the Deny before it reaches the
// Tool Registry.
func (e *Engine) Check(tool, argSignature string) Decision {
	if e.mode == ModeBypass {
		return Decision{Allowed: true, Reason: "bypass mode"}
	}
	if e.mode == ModePlan && !planReadOnlyTools[tool] {
		return Decision{Allowed: false, Reason: "plan mode: tool not read-only"}
	}

	target := tool
	if argSignature != "" {
		target = tool + "(" + argSignature + ")"
	}

	for _, r := range e.rules {
		if r.Deny && matches(r.Pattern, tool, target) {
			return Decision{Allowed: false, Reason: "denied by rule " + r.Pattern}
		}
	}
	for _, r := range e.rules {
		if !r.Deny && matches(r.Pattern, tool, target) {
			return Decision{Allowed: true, Reason: "allowed by rule " + r.Pattern}
		}
	}

	switch e.mode {
	case ModeAcceptEdits:
		if editTools[tool] {
			return Decision{Allowed: true, Reason: "accept_edits mode: edit tool"}
		}
		return Decision{Allowed: false, Reason: "accept_edits mode: no matching rule"}
	default:
		return Decision{Allowed: false, Reason: "default mode: no matching allow rule"}
	}
}

// matches reports whether pattern matches either the bare tool name or the
// full "Name(args)" target, supporting "*" glob segments and a literal
// "**" suffix meaning "any args".
func matches(pattern, tool, target string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == tool {
		return true
	}
	if ok, err := filepath.Match(pattern, target); err == nil && ok {
		return true
	}
	if ok, err := filepath.Match(pattern, tool); err == nil && ok {
		return true
	}
	// filepath.Match treats "/" specially and doesn't support "**"; fall
	// back to a simple prefix/suffix wildcard scan for patterns like
	// "Bash(git diff:*)" or "mcp__server__*".
	return wildcardMatch(pattern, target)
}

func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(s, last)
}
