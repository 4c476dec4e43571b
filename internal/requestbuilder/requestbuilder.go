// Package requestbuilder assembles the outbound ModelClient request from
// per-run state: model, message list, system prompt (as ordered cacheable
// blocks), tool definitions, and sampling parameters, per spec §4.9.
// Grounded on the teacher's cache-TTL pruning idiom
// (internal/agentcontext.ContextPruningCacheTTL) for the long/short TTL
// split, and internal/gateway/system_prompt.go's section-composition style
// for Replace/Append system-prompt modes.
package requestbuilder

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/pkg/models"
)

// CacheTTL marks how long a system-prompt block's prefix may be cached by
// the model provider.
type CacheTTL string

const (
	// CacheTTLLong is the 1-hour cache marker for static blocks (base
	// prompt, project memory, skill/rules/MCP-tool summaries once loaded).
	CacheTTLLong CacheTTL = "1h"
	// CacheTTLShort is the 5-minute cache marker for dynamic per-turn
	// blocks (active rules, freshly-computed summaries).
	CacheTTLShort CacheTTL = "5m"
	// CacheTTLNone marks an uncacheable block.
	CacheTTLNone CacheTTL = ""
)

// SystemBlock is one named, independently cacheable slice of the system
// prompt.
type SystemBlock struct {
	Name    string
	Content string
	TTL     CacheTTL
}

// PromptMode selects how a caller-supplied custom system prompt combines
// with the base prompt.
type PromptMode string

const (
	PromptReplace PromptMode = "replace"
	PromptAppend  PromptMode = "append"
)

// Sampling carries the sampling parameters passed through to the
// ModelClient unchanged.
type Sampling struct {
	Temperature *float64
	TopP        *float64
	TopK        *int
	StopSeqs    []string
}

// Request is the fully assembled ModelClient call.
type Request struct {
	Model     string
	MaxTokens int
	Messages  []models.Message
	System    []SystemBlock
	Tools     []toolregistry.Tool
	Stream    bool
	Sampling  Sampling
}

// Builder accumulates the named system-prompt blocks a run wants included
// and produces a Request once message/tool state is ready.
type Builder struct {
	basePrompt     string
	customPrompt   string
	mode           PromptMode
	projectMemory  string
	skillSummary   string
	rulesSummary   string
	mcpToolSummary string
}

// New constructs a Builder with the static base prompt and its
// Replace/Append composition mode.
func New(basePrompt string, customPrompt string, mode PromptMode) *Builder {
	return &Builder{basePrompt: basePrompt, customPrompt: customPrompt, mode: mode}
}

func (b *Builder) WithProjectMemory(s string) *Builder  { b.projectMemory = s; return b }
func (b *Builder) WithSkillSummary(s string) *Builder   { b.skillSummary = s; return b }
func (b *Builder) WithRulesSummary(s string) *Builder   { b.rulesSummary = s; return b }
func (b *Builder) WithMCPToolSummary(s string) *Builder { b.mcpToolSummary = s; return b }

// basePromptText applies the Replace/Append composition mode.
func (b *Builder) basePromptText() string {
	custom := strings.TrimSpace(b.customPrompt)
	if custom == "" {
		return b.basePrompt
	}
	switch b.mode {
	case PromptReplace:
		return custom
	case PromptAppend:
		if b.basePrompt == "" {
			return custom
		}
		return b.basePrompt + "\n\n" + custom
	default:
		return custom
	}
}

// SystemBlocks returns the ordered cacheable block list: base-prompt,
// project memory, skill summary, rules summary, MCP-tool summary — with
// every long-TTL block preceding every short-TTL block, a strict ordering
// contract (spec §4.9, §8 invariant). Rules summary is the one block
// marked short-TTL since it changes per-turn; everything else is static
// for the life of the session and marked long-TTL.
func (b *Builder) SystemBlocks() []SystemBlock {
	var long, short []SystemBlock
	add := func(name, content string, ttl CacheTTL) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		block := SystemBlock{Name: name, Content: content, TTL: ttl}
		if ttl == CacheTTLShort {
			short = append(short, block)
		} else {
			long = append(long, block)
		}
	}

	add("base-prompt", b.basePromptText(), CacheTTLLong)
	add("project-memory", b.projectMemory, CacheTTLLong)
	add("skill-summary", b.skillSummary, CacheTTLLong)
	add("mcp-tool-summary", b.mcpToolSummary, CacheTTLLong)
	add("rules-summary", b.rulesSummary, CacheTTLShort)

	return append(long, short...)
}

// Build assembles the full Request.
func (b *Builder) Build(model string, maxTokens int, messages []models.Message, tools []toolregistry.Tool, sampling Sampling, stream bool) (*Request, error) {
	if model == "" {
		return nil, fmt.Errorf("requestbuilder: model is required")
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("requestbuilder: max_tokens must be positive")
	}
	return &Request{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    b.SystemBlocks(),
		Tools:     tools,
		Stream:    stream,
		Sampling:  sampling,
	}, nil
}
