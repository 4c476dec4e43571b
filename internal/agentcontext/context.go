// Package agentcontext implements the Conversation Context: the per-run view
// of a session's active branch, its running token estimate, and the
// threshold-triggered compaction decision. Token estimation is grounded on
// the teacher's internal/context (EstimateTokens, ~4 chars/token) and
// internal/compaction (CharsPerToken, chunked-summarization) packages.
package agentcontext

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Settings configures when and how a Context compacts.
type Settings struct {
	Enabled             bool
	ThresholdPercent    float64
	KeepLastN           int
	ContextWindowTokens int
	MaxMergeChars        int
}

// Summarizer produces a compaction summary from the messages being dropped.
// Concrete implementations call a ModelClient with a dedicated compaction
// prompt; a fake is used in tests.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message, customInstructions string) (summary string, usage models.Usage, err error)
}

// Context is the mutable, single-owner view of one session's active branch.
// It is never shared across goroutines; the Streaming Executor is its only
// caller.
type Context struct {
	sessionID  string
	settings   Settings
	messages   []models.Message
	usage      models.Usage
	estimated  int // deliberately lossy running token estimate
}

// New creates a Context seeded with a session's already-persisted branch.
func New(sessionID string, settings Settings, seed []models.Message) *Context {
	c := &Context{sessionID: sessionID, settings: settings}
	for _, m := range seed {
		c.Push(m)
	}
	return c
}

// Push appends a message to the active branch and updates the running token
// estimate. This is the only way the estimate changes outside compaction.
func (c *Context) Push(m models.Message) {
	c.messages = append(c.messages, m)
	c.estimated += m.EstimateTokens()
}

// UpdateUsage accrues a model-call usage delta onto the context's running
// total, independent of the per-message estimate (real provider-reported
// token counts, not the lossy local estimate).
func (c *Context) UpdateUsage(u models.Usage) {
	c.usage.Add(u)
}

// Usage returns the cumulative provider-reported usage for this context.
func (c *Context) Usage() models.Usage { return c.usage }

// Messages returns the active branch in order, root to leaf.
func (c *Context) Messages() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// EstimatedTokens returns the current lossy token estimate for the active
// branch.
func (c *Context) EstimatedTokens() int { return c.estimated }

// ShouldCompact reports whether the running estimate has crossed the
// configured threshold of the context window.
func (c *Context) ShouldCompact() bool {
	if !c.settings.Enabled || c.settings.ContextWindowTokens <= 0 {
		return false
	}
	threshold := c.settings.ThresholdPercent / 100.0 * float64(c.settings.ContextWindowTokens)
	return float64(c.estimated) >= threshold
}

// Compact summarizes the entire active branch into one synthetic
// is_compact_summary user message, preserving the prior leaf id in the
// returned CompactRecord. It is the only operation that replaces the
// message list wholesale rather than appending to it.
//
// Compaction failure is non-fatal to the caller's run: Compact returns the
// error and the Context is left unmodified so the caller can proceed
// without compacting.
func (c *Context) Compact(ctx context.Context, summarizer Summarizer, customInstructions string) (*models.CompactRecord, error) {
	if len(c.messages) == 0 {
		return nil, fmt.Errorf("compact: empty context")
	}
	preTokens := c.estimated
	preLeaf := c.messages[len(c.messages)-1].UUID

	keepLastN := c.settings.KeepLastN
	if keepLastN < 0 {
		keepLastN = 0
	}
	if keepLastN > len(c.messages) {
		keepLastN = len(c.messages)
	}
	toSummarize := c.messages[:len(c.messages)-keepLastN]
	preserved := c.messages[len(c.messages)-keepLastN:]

	summaryText, usage, err := summarizer.Summarize(ctx, toSummarize, customInstructions)
	if err != nil {
		return nil, fmt.Errorf("compact: summarize: %w", err)
	}
	if len(summaryText) > c.settings.MaxMergeChars && c.settings.MaxMergeChars > 0 {
		summaryText = summaryText[:c.settings.MaxMergeChars]
	}

	summaryMsg := models.Message{
		UUID:             uuid.NewString(),
		SessionID:        c.sessionID,
		Role:             models.RoleUser,
		Content:          []models.ContentBlock{models.NewTextBlock(summaryText)},
		IsCompactSummary: true,
		CreatedAt:        time.Now(),
	}

	newMessages := make([]models.Message, 0, 1+len(preserved))
	newMessages = append(newMessages, summaryMsg)
	newMessages = append(newMessages, preserved...)

	c.messages = newMessages
	c.usage.Add(usage)
	c.estimated = 0
	for _, m := range c.messages {
		c.estimated += m.EstimateTokens()
	}
	postTokens := c.estimated

	record := &models.CompactRecord{
		ID:               uuid.NewString(),
		LogicalParentID:  preLeaf,
		SummaryMessageID: summaryMsg.UUID,
		PreTokens:        preTokens,
		PostTokens:       postTokens,
		SavedTokens:      preTokens - postTokens,
		CreatedAt:        time.Now(),
	}
	return record, nil
}

// SystemReminderMessage builds the `<system-reminder>` user message appended
// after a compaction, snapshotting active todos, the current non-terminal
// plan, running subagents, and running background processes.
func SystemReminderMessage(sessionID string, todos []models.Todo, plan *models.Plan, subagents []models.SubagentEntry, processes []models.BackgroundProcess) models.Message {
	text := "<system-reminder>\n"
	text += fmt.Sprintf("active_todos=%d\n", countActive(todos))
	if plan != nil && !plan.Status.IsTerminal() {
		text += fmt.Sprintf("plan=%s\n", plan.Status)
	}
	text += fmt.Sprintf("running_subagents=%d\n", countActiveSubagents(subagents))
	text += fmt.Sprintf("running_processes=%d\n", countRunningProcesses(processes))
	text += "</system-reminder>"

	return models.Message{
		UUID:      uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   []models.ContentBlock{models.NewTextBlock(text)},
		CreatedAt: time.Now(),
	}
}

func countActive(todos []models.Todo) int {
	n := 0
	for _, t := range todos {
		if t.Status != models.TodoCompleted {
			n++
		}
	}
	return n
}

func countActiveSubagents(entries []models.SubagentEntry) int {
	n := 0
	for _, e := range entries {
		if e.State == models.SubagentActive {
			n++
		}
	}
	return n
}

func countRunningProcesses(procs []models.BackgroundProcess) int {
	n := 0
	for _, p := range procs {
		if p.Running {
			n++
		}
	}
	return n
}
