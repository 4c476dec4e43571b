package models

import "time"

// SessionState is the lifecycle state of a session (spec §3).
type SessionState string

const (
	SessionCreated         SessionState = "created"
	SessionActive          SessionState = "active"
	SessionWaitingForTools SessionState = "waiting_for_tools"
	SessionWaitingForUser  SessionState = "waiting_for_user"
	SessionPaused          SessionState = "paused"
	SessionCompleted       SessionState = "completed"
	SessionFailed          SessionState = "failed"
	SessionCancelled       SessionState = "cancelled"
	SessionExpired         SessionState = "expired"
)

// SessionKind discriminates a Main session (directly user-driven) from a
// Subagent session (spawned by a Task tool invocation).
type SessionKind string

const (
	SessionKindMain     SessionKind = "main"
	SessionKindSubagent SessionKind = "subagent"
)

// SessionConfig is the per-session configuration snapshot carried on
// Session.Config: model, token ceiling, TTL, and permission policy. It is
// copied onto a session at creation (and onto a forked/subagent session
// from its source) so a run's behavior doesn't drift if global defaults
// change mid-session.
type SessionConfig struct {
	Model            string        `json:"model"`
	MaxTokens        int           `json:"max_tokens"`
	TTL              time.Duration `json:"ttl,omitempty"`
	PermissionPolicy string        `json:"permission_policy,omitempty"`
}

// SubagentInfo identifies the agent_type/description of a Subagent-kind
// session; nil for a Main session.
type SubagentInfo struct {
	AgentType   string `json:"agent_type"`
	Description string `json:"description"`
}

// Session is a conversation thread backed by a flat list of Messages linked
// by ParentID. CurrentLeafID names the message that terminates the active
// branch; walking ParentID from there to a root message yields the linear
// view the agent loop operates on.
type Session struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id,omitempty"`
	AgentID  string  `json:"agent_id"`
	ParentID *string `json:"parent_id,omitempty"` // parent session, for subagents
	State    SessionState `json:"state"`

	Kind     SessionKind   `json:"kind"`
	Subagent *SubagentInfo `json:"subagent,omitempty"` // set iff Kind == SessionKindSubagent

	Config SessionConfig `json:"config"`

	CurrentLeafID *string `json:"current_leaf_id,omitempty"`

	// Summary is an optional human-readable rollup of the session,
	// refreshed opportunistically (e.g. after compaction or completion).
	Summary string `json:"summary,omitempty"`

	// StaticContextHash fingerprints the static system-prompt sections
	// (project memory, rules, MCP tool summary) this session was started
	// with, so a Request Builder cache-ordering change can be detected
	// without re-hashing the full prompt on every call.
	StaticContextHash string `json:"static_context_hash,omitempty"`

	Todos []Todo `json:"todos,omitempty"`
	Plan  *Plan  `json:"plan,omitempty"`

	CompactHistory []CompactRecord `json:"compact_history,omitempty"`

	TotalUsage   Usage   `json:"total_usage"`
	TotalCostUSD float64 `json:"total_cost_usd"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Invariants (enforced by the Session Store, not by this type):
//   - every non-nil Message.ParentID refers to an earlier message in the
//     same session;
//   - CurrentLeafID, if set, names a message that exists in the session;
//   - a compact-summary message's ParentID is nil even though its
//     CompactRecord.LogicalParentID preserves the true pre-compact leaf;
//   - TotalUsage and TotalCostUSD are the cumulative sum of every message's
//     per-call Usage/cost delta, recomputed by Store.AppendMessage;
//   - Subagent is non-nil if and only if Kind == SessionKindSubagent.

// TodoStatus is the lifecycle state of a single todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one entry in a session's shared todo list. At most one Todo in a
// session may be InProgress at a time.
type Todo struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Status    TodoStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PlanStatus is the lifecycle state of a Plan: Draft -> Approved ->
// Executing -> one of the terminal states (Completed, Failed, Cancelled).
// Transitions are monotonic; only one plan per session is non-terminal at
// a time (spec §3).
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether a plan in this status can no longer transition.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanCancelled
}

// Plan is the session's current plan, presented to the user for approval
// before Plan-mode tools give way to normal execution. At most one Plan per
// session is non-terminal at a time.
type Plan struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Status    PlanStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CompactRecord is written once per compaction, preserving the pre-compact
// leaf so provenance survives the message list being replaced.
type CompactRecord struct {
	ID               string    `json:"id"`
	LogicalParentID  string    `json:"logical_parent_id"` // pre-compact leaf id
	SummaryMessageID string    `json:"summary_message_id"`
	PreTokens        int       `json:"pre_tokens"`
	PostTokens       int       `json:"post_tokens"`
	SavedTokens      int       `json:"saved_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// SubagentState mirrors SessionState for a spawned subagent run, tracked
// both in the Task Registry's runtime map and persisted via the session.
type SubagentState string

const (
	SubagentActive    SubagentState = "active"
	SubagentCompleted SubagentState = "completed"
	SubagentFailed    SubagentState = "failed"
	SubagentCancelled SubagentState = "cancelled"
)

// SubagentEntry is the persisted record of one Task-tool invocation.
type SubagentEntry struct {
	ID           string        `json:"id"`
	ParentSessionID string     `json:"parent_session_id"`
	ChildSessionID  string     `json:"child_session_id"`
	AgentType    string        `json:"agent_type"`
	Description  string        `json:"description"`
	State        SubagentState `json:"state"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// BackgroundProcess is the persisted record of one Process-Manager-tracked
// subprocess, keyed by a random id distinct from the OS pid.
type BackgroundProcess struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Command   string     `json:"command"`
	Cwd       string     `json:"cwd"`
	PID       int        `json:"pid"`
	Running   bool       `json:"running"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
