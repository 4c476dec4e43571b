package agentcontext

import "time"

// ContextPruningMode selects a pruning strategy for in-memory tool results,
// independent of full compaction. Only one mode is currently implemented.
type ContextPruningMode string

// ContextPruningCacheTTL ages out old tool result content once it falls
// outside the provider's prompt-cache TTL window, trading re-send cost for
// a smaller prompt.
const ContextPruningCacheTTL ContextPruningMode = "cache_ttl"

// ContextPruningToolMatch selects which tool results are eligible for
// pruning by name.
type ContextPruningToolMatch struct {
	Allow []string
	Deny  []string
}

// ContextPruningSoftTrim truncates a prunable tool result's content down to
// a head/tail window instead of removing it outright.
type ContextPruningSoftTrim struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// ContextPruningHardClear replaces a prunable tool result's content with a
// placeholder entirely once it ages further still.
type ContextPruningHardClear struct {
	Enabled     bool
	Placeholder string
}

// ContextPruningSettings is the runtime form of config.ContextPruningConfig,
// grounded on the teacher's internal/context truncation idiom (TTL window,
// keep-last-assistants, soft-trim head/tail, hard-clear placeholder).
type ContextPruningSettings struct {
	Mode                 ContextPruningMode
	TTL                  time.Duration
	KeepLastAssistants   int
	SoftTrimRatio        float64
	HardClearRatio       float64
	MinPrunableToolChars int
	Tools                ContextPruningToolMatch
	SoftTrim             ContextPruningSoftTrim
	HardClear            ContextPruningHardClear
}

// DefaultContextPruningSettings matches the values the teacher's context
// package used for its cache-TTL pruning mode.
func DefaultContextPruningSettings() ContextPruningSettings {
	return ContextPruningSettings{
		Mode:                 ContextPruningCacheTTL,
		TTL:                  5 * time.Minute,
		KeepLastAssistants:   2,
		SoftTrimRatio:        0.5,
		HardClearRatio:       0.8,
		MinPrunableToolChars: 2000,
		SoftTrim:             ContextPruningSoftTrim{MaxChars: 4000, HeadChars: 2000, TailChars: 1000},
		HardClear:            ContextPruningHardClear{Enabled: true, Placeholder: "[tool output pruned]"},
	}
}

// Prune applies cache-TTL pruning to a message list in place: tool-result
// blocks in messages older than keepLastAssistants assistant turns and past
// age have their content soft-trimmed to a head/tail window, then hard
// cleared to the placeholder once they age past HardClearRatio of the TTL.
func Prune(messages []toolResultCarrier, settings ContextPruningSettings, now time.Time) int {
	if settings.Mode != ContextPruningCacheTTL {
		return 0
	}
	assistantsSeen := 0
	pruned := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsAssistant() {
			assistantsSeen++
		}
		if assistantsSeen < settings.KeepLastAssistants {
			continue
		}
		age := now.Sub(messages[i].CreatedAt())
		if age < settings.TTL {
			continue
		}
		for _, block := range messages[i].ToolResultBlocks() {
			if len(block.Content) < settings.MinPrunableToolChars {
				continue
			}
			if !allowedForPruning(block.ToolUseID, settings.Tools) {
				continue
			}
			ratio := float64(age) / float64(settings.TTL)
			switch {
			case settings.HardClear.Enabled && ratio >= 1+settings.HardClearRatio:
				block.Content = settings.HardClear.Placeholder
				pruned++
			case ratio >= 1+settings.SoftTrimRatio:
				block.Content = softTrim(block.Content, settings.SoftTrim)
				pruned++
			}
		}
	}
	return pruned
}

func allowedForPruning(name string, match ContextPruningToolMatch) bool {
	for _, deny := range match.Deny {
		if deny == name {
			return false
		}
	}
	if len(match.Allow) == 0 {
		return true
	}
	for _, allow := range match.Allow {
		if allow == name {
			return true
		}
	}
	return false
}

func softTrim(content string, cfg ContextPruningSoftTrim) string {
	if len(content) <= cfg.MaxChars {
		return content
	}
	head := cfg.HeadChars
	tail := cfg.TailChars
	if head+tail >= len(content) {
		return content
	}
	return content[:head] + "\n...[pruned]...\n" + content[len(content)-tail:]
}

// toolResultCarrier is a narrow view over a message so Prune doesn't need to
// import pkg/models directly; the Conversation Context adapts its own
// Message slice to this interface.
type toolResultCarrier interface {
	IsAssistant() bool
	CreatedAt() time.Time
	ToolResultBlocks() []*toolResultBlock
}

type toolResultBlock struct {
	ToolUseID string
	Content   string
}
