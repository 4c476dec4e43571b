package models

import "testing"

func TestContentBlockEstimateTokens(t *testing.T) {
	text := NewTextBlock("0123456789") // 10 chars
	if got, want := text.EstimateTokens(), 10/charsPerToken; got != want {
		t.Fatalf("Text EstimateTokens() = %d, want %d", got, want)
	}

	toolUse := NewToolUseBlock("id1", "bash", []byte(`{"command":"a very long command that would dwarf the flat budget if chars counted"}`))
	if got, want := toolUse.EstimateTokens(), contentBlockFlatTokenCost; got != want {
		t.Fatalf("ToolUse EstimateTokens() = %d, want flat %d regardless of input size", got, want)
	}

	toolResult := NewToolResultBlock("id1", "ok", false)
	if got, want := toolResult.EstimateTokens(), contentBlockFlatTokenCost; got != want {
		t.Fatalf("ToolResult EstimateTokens() = %d, want flat %d", got, want)
	}

	thinking := ContentBlock{Type: ContentThinking, Thinking: &ThinkingBlock{Text: "reasoning..."}}
	if got, want := thinking.EstimateTokens(), contentBlockFlatTokenCost; got != want {
		t.Fatalf("Thinking EstimateTokens() = %d, want flat %d", got, want)
	}
}

func TestMessageEstimateTokensSumsBlocks(t *testing.T) {
	m := &Message{Content: []ContentBlock{
		NewTextBlock("hello"),
		NewTextBlock("world"),
	}}
	got := m.EstimateTokens()
	want := NewTextBlock("hello").EstimateTokens() + NewTextBlock("world").EstimateTokens()
	if got != want {
		t.Fatalf("EstimateTokens() = %d, want %d", got, want)
	}
}

func TestNewToolResultBlockMarksError(t *testing.T) {
	b := NewToolResultBlock("t1", "boom", true)
	if !b.ToolResult.IsError {
		t.Fatalf("expected IsError true")
	}
	if b.ToolResult.ToolUseID != "t1" {
		t.Fatalf("ToolUseID = %q, want t1", b.ToolResult.ToolUseID)
	}
}
