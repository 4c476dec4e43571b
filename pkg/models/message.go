// Package models provides domain types for the Nexus agent system.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentBlockType discriminates the ContentBlock sum type.
type ContentBlockType string

const (
	ContentText       ContentBlockType = "text"
	ContentToolUse    ContentBlockType = "tool_use"
	ContentToolResult ContentBlockType = "tool_result"
	ContentThinking   ContentBlockType = "thinking"
)

// contentBlockFlatTokenCost is added per content block in the deliberately
// lossy token estimate used by the Conversation Context, on top of the
// chars-per-token estimate, to account for block framing overhead.
const contentBlockFlatTokenCost = 25

// charsPerToken is the conservative estimate used across the core: 4
// characters per token, i.e. a 0.25 tokens-per-char ratio.
const charsPerToken = 4

// ContentBlock is the sum type for message content: exactly one of the
// Text/ToolUse/ToolResult/Thinking fields is populated, matching Type.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	Text *TextBlock `json:"text,omitempty"`

	ToolUse *ToolUseBlock `json:"tool_use,omitempty"`

	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`

	Thinking *ThinkingBlock `json:"thinking,omitempty"`
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string `json:"text"`
}

// ToolUseBlock is a model-proposed tool invocation.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock is the observation fed back to the model after a tool
// executes.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ThinkingBlock is extended-reasoning content, kept distinct from Text so
// it can be stripped or redacted independently.
type ThinkingBlock struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// NewTextBlock constructs a Text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: &TextBlock{Text: text}}
}

// NewToolUseBlock constructs a ToolUse content block.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: ContentToolUse, ToolUse: &ToolUseBlock{ID: id, Name: name, Input: input}}
}

// NewToolResultBlock constructs a ToolResult content block.
func NewToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: ContentToolResult, ToolResult: &ToolResultBlock{ToolUseID: toolUseID, Content: content, IsError: isError}}
}

// EstimateTokens returns a deliberately lossy token estimate for a block.
// Only Text contributes to the chars-per-token estimate; every other block
// type contributes a flat per-block budget regardless of its payload size.
func (b ContentBlock) EstimateTokens() int {
	if b.Type == ContentText {
		if b.Text == nil {
			return 0
		}
		return len(b.Text.Text) / charsPerToken
	}
	return contentBlockFlatTokenCost
}

// Message is one immutable node in a session's DAG. ParentID is nil for a
// root message; IsSidechain marks messages that belong to a forked child
// session; IsCompactSummary marks the synthetic summary message produced by
// compaction.
type Message struct {
	UUID             string         `json:"uuid"`
	SessionID        string         `json:"session_id"`
	ParentID         *string        `json:"parent_id,omitempty"`
	Role             Role           `json:"role"`
	Content          []ContentBlock `json:"content"`
	IsSidechain      bool           `json:"is_sidechain,omitempty"`
	IsCompactSummary bool           `json:"is_compact_summary,omitempty"`
	Usage            *Usage         `json:"usage,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// EstimateTokens sums the deliberately lossy per-block estimate across all
// content blocks in the message.
func (m *Message) EstimateTokens() int {
	total := 0
	for _, b := range m.Content {
		total += b.EstimateTokens()
	}
	return total
}
