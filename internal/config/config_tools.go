package config

import "time"

// ToolsConfig configures the tool registry, sandbox, and execution policy.
type ToolsConfig struct {
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Elevated  ElevatedConfig      `yaml:"elevated"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool.
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations   int                   `yaml:"max_iterations"`
	Timeout         time.Duration         `yaml:"timeout"`
	MaxAttempts     int                   `yaml:"max_attempts"`
	RetryBackoff    time.Duration         `yaml:"retry_backoff"`
	DisableEvents   bool                  `yaml:"disable_events"`
	MaxToolCalls    int                   `yaml:"max_tool_calls"`
	RequireApproval []string              `yaml:"require_approval"`
	Async           []string              `yaml:"async"`
	Approval        ApprovalConfig        `yaml:"approval"`
	ResultGuard     ToolResultGuardConfig `yaml:"result_guard"`
}

// ApprovalConfig controls tool approval behavior and maps directly onto
// the permission engine's mode plus allow/deny rule set.
type ApprovalConfig struct {
	// Mode selects the permission mode: "default", "accept_edits", "bypass", "plan".
	Mode string `yaml:"mode"`

	// Profile is a pre-configured tool access level: "minimal", "coding",
	// "full". When set, the profile's default rules seed the allowlist.
	Profile string `yaml:"profile"`

	// Allow contains glob patterns that are always allowed (no approval
	// needed). Supports "*", "mcp__server__*", "Bash(git diff:*)".
	Allow []string `yaml:"allow"`

	// Deny contains glob patterns that are always denied. Deny is checked
	// before allow.
	Deny []string `yaml:"deny"`

	// AskFallback queues an approval request when no UI is attached,
	// instead of denying outright.
	AskFallback *bool `yaml:"ask_fallback"`

	// RequestTTL is how long an approval request remains valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolResultGuardConfig controls truncation of tool results before they
// re-enter the conversation and before they are persisted.
type ToolResultGuardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxChars       int    `yaml:"max_chars"`
	TruncateSuffix string `yaml:"truncate_suffix"`
}

// ElevatedConfig controls elevated (bypass-permissions) tool execution.
type ElevatedConfig struct {
	// Enabled gates elevated execution. Disabled by default.
	Enabled *bool `yaml:"enabled"`

	// Tools lists tool patterns that elevated mode bypasses approvals for.
	Tools []string `yaml:"tools"`
}

type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`

	// WorkspaceRoot bounds filesystem-touching tools; paths resolving
	// outside this root are rejected.
	WorkspaceRoot string `yaml:"workspace_root"`

	// NetworkEnabled allows tools to reach the network at all.
	NetworkEnabled bool `yaml:"network_enabled"`

	// NetworkAllow is a list of host patterns reachable when
	// NetworkEnabled is true. Empty means none.
	NetworkAllow []string `yaml:"network_allow"`

	// Limits caps resource usage per tool invocation.
	Limits ResourceLimits `yaml:"limits"`

	// DefaultTimeout bounds a single tool call when the tool doesn't
	// specify its own.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxOutputBytes truncates tool stdout/result content beyond this size.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

type ResourceLimits struct {
	MaxCPU    int    `yaml:"max_cpu"`
	MaxMemory string `yaml:"max_memory"`
}

// ToolJobsConfig controls async tool job persistence and retention.
type ToolJobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}
