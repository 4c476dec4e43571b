package models

// StopReason is why a Streaming Executor run reached Complete.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// RunState is the terminal disposition of an agent run.
type RunState string

const (
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Metrics accumulates per-run counters surfaced alongside AgentResult.
type Metrics struct {
	APICalls          int            `json:"api_calls"`
	ToolCalls         int            `json:"tool_calls"`
	ToolCallsByName   map[string]int `json:"tool_calls_by_name,omitempty"`
	ToolTotalTime     int64          `json:"tool_total_time_ms"`
	ToolErrors        int            `json:"tool_errors"`
	PermissionDenials int            `json:"permission_denials"`
	TotalCostUSD      float64        `json:"total_cost_usd"`
}

// AgentResult is the terminal value of one Streaming Executor run.
type AgentResult struct {
	UUID             string     `json:"uuid"`
	SessionID        string     `json:"session_id"`
	Text             string     `json:"text"`
	Messages         []Message  `json:"messages"`
	ToolCalls        int        `json:"tool_calls"`
	Iterations       int        `json:"iterations"`
	StopReason       StopReason `json:"stop_reason"`
	Usage            Usage      `json:"usage"`
	Metrics          Metrics    `json:"metrics"`
	State            RunState   `json:"state"`
	StructuredOutput any        `json:"structured_output,omitempty"`
	Error            string     `json:"error,omitempty"`
}
