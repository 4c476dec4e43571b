package requestbuilder

import "testing"

func TestSystemBlocksOrdersLongTTLBeforeShortTTL(t *testing.T) {
	b := New("base", "", PromptReplace).
		WithProjectMemory("memory").
		WithRulesSummary("active rules").
		WithSkillSummary("skills")

	blocks := b.SystemBlocks()
	sawShort := false
	for _, block := range blocks {
		if block.TTL == CacheTTLShort {
			sawShort = true
			continue
		}
		if sawShort {
			t.Fatalf("long-TTL block %q appeared after a short-TTL block", block.Name)
		}
	}
	if !sawShort {
		t.Fatalf("expected at least one short-TTL block, got %+v", blocks)
	}
}

func TestSystemBlocksOmitsEmptySections(t *testing.T) {
	b := New("base", "", PromptReplace)
	blocks := b.SystemBlocks()
	if len(blocks) != 1 || blocks[0].Name != "base-prompt" {
		t.Fatalf("expected only base-prompt block, got %+v", blocks)
	}
}

func TestPromptReplaceModeIgnoresBasePrompt(t *testing.T) {
	b := New("base prompt text", "custom prompt", PromptReplace)
	if got := b.basePromptText(); got != "custom prompt" {
		t.Fatalf("expected replace mode to use custom prompt only, got %q", got)
	}
}

func TestPromptAppendModeConcatenatesAfterBase(t *testing.T) {
	b := New("base prompt text", "custom prompt", PromptAppend)
	got := b.basePromptText()
	if got != "base prompt text\n\ncustom prompt" {
		t.Fatalf("unexpected append composition: %q", got)
	}
}

func TestBuildRejectsMissingModel(t *testing.T) {
	b := New("base", "", PromptReplace)
	if _, err := b.Build("", 1024, nil, nil, Sampling{}, true); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestBuildRejectsNonPositiveMaxTokens(t *testing.T) {
	b := New("base", "", PromptReplace)
	if _, err := b.Build("claude-3", 0, nil, nil, Sampling{}, true); err == nil {
		t.Fatalf("expected error for non-positive max_tokens")
	}
}

func TestBuildReturnsAssembledRequest(t *testing.T) {
	b := New("base", "", PromptReplace)
	req, err := b.Build("claude-3", 4096, nil, nil, Sampling{}, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Model != "claude-3" || req.MaxTokens != 4096 || !req.Stream {
		t.Fatalf("unexpected request: %+v", req)
	}
}
