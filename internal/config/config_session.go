package config

import "time"

// SessionConfig configures session lifecycle and conversation context
// management for the agent loop.
type SessionConfig struct {
	// DefaultAgentID is used when a caller omits an explicit agent id.
	DefaultAgentID string `yaml:"default_agent_id"`

	// MaxMessagesPerSession caps the in-memory message list kept per
	// session before older entries are evicted from the hot path.
	MaxMessagesPerSession int `yaml:"max_messages_per_session"`

	Compaction     CompactionConfig     `yaml:"compaction"`
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
}

// CompactionConfig controls automatic conversation summarization once the
// token budget crosses a threshold.
type CompactionConfig struct {
	Enabled              bool    `yaml:"enabled"`
	ThresholdPercent     float64 `yaml:"threshold_percent"`
	KeepLastN            int     `yaml:"keep_last_n"`
	ContextWindowTokens  int     `yaml:"context_window_tokens"`
	MaxMergeChars        int     `yaml:"max_merge_chars"`
}

// DefaultCompactionConfig matches the values used throughout the streaming
// executor's auto-compaction trigger.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:             true,
		ThresholdPercent:    80,
		KeepLastN:           4,
		ContextWindowTokens: 100000,
		MaxMergeChars:       100000,
	}
}

// ContextPruningConfig controls in-memory tool result pruning for sessions,
// independent of full compaction.
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
