// Package executor implements the Streaming Executor of spec §4.10: a
// single-threaded cooperative state machine that drives one agent run to a
// terminal AgentResult, emitting a lazy sequence of models.AgentEvent
// values along the way. Grounded on the teacher's internal/agent
// AgenticLoop (Init/Stream/ExecuteTools/Continue/Complete phase machine,
// channel-of-chunks idiom, sanitize-config-with-defaults pattern) adapted
// from its dynamic-dispatch LLMProvider to the spec's ModelClient contract
// and from its ToolRegistry to toolregistry.Registry.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/agentcontext"
	"github.com/haasonsaas/nexus/internal/budget"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/processmgr"
	"github.com/haasonsaas/nexus/internal/requestbuilder"
	"github.com/haasonsaas/nexus/internal/rules"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/pkg/models"
)

// eventBufferSize matches the teacher's processBufferSize idiom: enough
// headroom that a fast producer rarely blocks on a slow consumer without
// growing unbounded, per spec §5's pull-driven, non-unbounded event stream.
const eventBufferSize = 32

// Config tunes one Executor's run behavior. Zero-value fields are filled
// with spec-mandated defaults by sanitizeConfig.
type Config struct {
	// MaxIterations bounds model-call turns per run (spec §4.10 step 5).
	MaxIterations int
	// MaxTokens is the per-call response token ceiling sent to the model.
	MaxTokens int
	// ContextWindowTokens is the model's total context size, used by the
	// auto-compaction threshold check (spec §4.10.c).
	ContextWindowTokens int
	// CompactThresholdPercent triggers compaction once the running token
	// estimate crosses this percentage of ContextWindowTokens.
	CompactThresholdPercent float64
	// CompactKeepLastN preserves this many trailing messages uncompacted.
	CompactKeepLastN int
	// ToolTimeout bounds one tool invocation (spec §5, default 120s).
	ToolTimeout time.Duration
	// ModelChunkTimeout bounds the gap between streamed model events
	// (spec §5, default 60s).
	ModelChunkTimeout time.Duration
	// ModelTotalTimeout bounds one model call end to end (spec §5,
	// default 300s).
	ModelTotalTimeout time.Duration
	// CancelAwaitTimeout bounds how long an in-flight tool is awaited
	// after cancellation before being abandoned (spec §4.10 Cancellation).
	CancelAwaitTimeout time.Duration
	// DefaultModel is used when a run does not override it.
	DefaultModel string
	// CompactionModel is the (usually smaller/cheaper) model used for
	// summarization during auto-compaction.
	CompactionModel string
	// CompactionInstructions are appended to the compaction prompt when
	// non-empty (spec §4.10.c "any user-provided custom instructions").
	CompactionInstructions string
	Sampling                requestbuilder.Sampling
}

const (
	defaultMaxIterations           = 50
	defaultMaxTokens               = 4096
	defaultContextWindowTokens     = 200_000
	defaultCompactThresholdPercent = 80
	defaultCompactKeepLastN        = 4
	defaultModelChunkTimeout       = 60 * time.Second
	defaultModelTotalTimeout       = 300 * time.Second
	defaultCancelAwaitTimeout      = 5 * time.Second
)

func sanitizeConfig(c Config) Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.ContextWindowTokens <= 0 {
		c.ContextWindowTokens = defaultContextWindowTokens
	}
	if c.CompactThresholdPercent <= 0 {
		c.CompactThresholdPercent = defaultCompactThresholdPercent
	}
	if c.CompactKeepLastN <= 0 {
		c.CompactKeepLastN = defaultCompactKeepLastN
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = toolregistry.DefaultToolTimeout
	}
	if c.ModelChunkTimeout <= 0 {
		c.ModelChunkTimeout = defaultModelChunkTimeout
	}
	if c.ModelTotalTimeout <= 0 {
		c.ModelTotalTimeout = defaultModelTotalTimeout
	}
	if c.CancelAwaitTimeout <= 0 {
		c.CancelAwaitTimeout = defaultCancelAwaitTimeout
	}
	return c
}

// Deps are the collaborators one Executor wires together; all are
// required except Rules, Sessions, Tasks, Processes, and Logger (a run
// with no rule set, no persistence backend, no subagents, no background
// processes, or no structured logger is a valid, if degenerate,
// configuration used by tests).
type Deps struct {
	Client   modelclient.Client
	Tools    *toolregistry.Registry
	Hooks    *hooks.Manager
	Budget   *budget.Tracker
	Rules    *rules.Engine
	ExecCtx  *toolregistry.ExecutionContext
	Sessions sessionstore.Store
	Prices   map[string]models.ModelPrice

	// Tasks is the Task Registry backing this run's view of running
	// subagents, surfaced in the post-compaction system reminder (spec
	// §4.10.c) and by any Task/TaskOutput tool sharing the same registry.
	Tasks *tasks.Registry
	// Processes is the Process Manager backing this run's view of running
	// background shell processes, surfaced the same way.
	Processes *processmgr.Manager
	// Logger records structured warnings for paths that fail open rather
	// than failing the run: hook dispatch errors on non-fatal events,
	// compaction failures, and tool timeouts (SPEC_FULL.md §4.11).
	Logger *observability.Logger
}

// Executor drives one agent run at a time; construct a new Executor (or
// reuse one across sequential, non-overlapping runs) per spec §5's
// single-threaded-per-run concurrency model. Concurrent subagent runs use
// independent Executors.
type Executor struct {
	deps   Deps
	cfg    Config
	prompt *requestbuilder.Builder
}

// New constructs an Executor. prompt supplies the static/dynamic
// system-prompt sections the Request Builder assembles each model call;
// callers update prompt.WithRulesSummary between runs as rules activate.
func New(deps Deps, cfg Config, prompt *requestbuilder.Builder) *Executor {
	return &Executor{deps: deps, cfg: sanitizeConfig(cfg), prompt: prompt}
}

// Run starts one agent run in a background goroutine and returns the event
// channel, closed once a terminal AgentResult has been emitted. seed is
// the session's already-persisted active branch; userMsg is the new
// inbound message. cancelCh, typically a Task Registry entry's cancel
// channel, delivers cooperative cancellation (spec §4.10 Cancellation).
func (e *Executor) Run(ctx context.Context, session *models.Session, seed []models.Message, userMsg models.Message, cancelCh <-chan struct{}) <-chan *models.AgentEvent {
	if cancelCh == nil {
		cancelCh = make(chan struct{})
	}
	events := make(chan *models.AgentEvent, eventBufferSize)
	runID := uuid.NewString()
	go e.run(ctx, runID, session, seed, userMsg, cancelCh, events)
	return events
}

type emitter struct {
	events chan<- *models.AgentEvent
	runID  string
	seq    uint64
	iter   *int
}

func (em *emitter) send(ev *models.AgentEvent) {
	em.seq++
	ev.Version = 1
	ev.Sequence = em.seq
	ev.RunID = em.runID
	ev.Time = time.Now()
	ev.IterIndex = *em.iter
	em.events <- ev
}

func (e *Executor) run(ctx context.Context, runID string, session *models.Session, seed []models.Message, userMsg models.Message, cancelCh <-chan struct{}, events chan<- *models.AgentEvent) {
	defer close(events)

	iteration := 0
	em := &emitter{events: events, runID: runID, iter: &iteration}

	cctx := agentcontext.New(session.ID, agentcontext.Settings{
		Enabled:             true,
		ThresholdPercent:    e.cfg.CompactThresholdPercent,
		KeepLastN:           e.cfg.CompactKeepLastN,
		ContextWindowTokens: e.cfg.ContextWindowTokens,
		MaxMergeChars:       100_000,
	}, seed)

	isNewSession := len(seed) == 0
	if isNewSession {
		if blocked, reason := e.runFatalHook(ctx, hooks.EventSessionStart, session, "", nil); blocked {
			e.fail(em, session, &models.Metrics{}, cctx, fmt.Errorf("session start blocked: %s", reason))
			return
		}
	}
	if blocked, reason := e.runFatalHook(ctx, hooks.EventUserPromptSubmit, session, "", nil); blocked {
		e.fail(em, session, &models.Metrics{}, cctx, fmt.Errorf("user prompt blocked: %s", reason))
		return
	}

	cctx.Push(userMsg)
	e.persist(ctx, session, userMsg)

	metrics := &models.Metrics{}
	var pendingToolUses []models.ContentBlock
	var pendingResults []models.ContentBlock

	for {
		select {
		case <-cancelCh:
			e.terminal(em, session, metrics, cctx, models.RunCancelled, "")
			return
		case <-ctx.Done():
			e.terminal(em, session, metrics, cctx, models.RunCancelled, ctx.Err().Error())
			return
		default:
		}

		if len(pendingToolUses) > 0 {
			tu := pendingToolUses[0]
			pendingToolUses = pendingToolUses[1:]

			result := e.dispatchTool(ctx, session, tu, metrics, em)
			pendingResults = append(pendingResults, result)

			if len(pendingToolUses) == 0 {
				toolMsg := models.Message{
					UUID:      uuid.NewString(),
					SessionID: session.ID,
					Role:      models.RoleUser,
					Content:   pendingResults,
					CreatedAt: time.Now(),
				}
				cctx.Push(toolMsg)
				e.persist(ctx, session, toolMsg)
				pendingResults = nil

				em.send(&models.AgentEvent{Type: models.AgentEventContextUpdated, ContextUpdate: &models.ContextUpdatePayload{
					UsedTokens: cctx.EstimatedTokens(),
					MaxTokens:  e.cfg.ContextWindowTokens,
				}})

				if cctx.ShouldCompact() {
					if !e.maybeCompact(ctx, session, cctx, em) {
						// HookBlock on PreCompact is fatal per spec §7.
						e.fail(em, session, metrics, cctx, fmt.Errorf("compaction blocked by hook"))
						return
					}
				}
			}
			continue
		}

		if err := e.deps.Budget.Check(); err != nil {
			e.fail(em, session, metrics, cctx, err)
			return
		}

		iteration++
		if iteration > e.cfg.MaxIterations {
			e.terminalWithResult(em, session, metrics, cctx, models.RunCompleted, models.StopMaxTokens, "")
			return
		}

		content, stopReason, err := e.callModel(ctx, session, cctx, metrics, em, false)
		if err != nil {
			e.fail(em, session, metrics, cctx, err)
			return
		}

		var toolUses []models.ContentBlock
		for _, b := range content {
			if b.Type == models.ContentToolUse {
				toolUses = append(toolUses, b)
			}
		}
		if stopReason != models.StopToolUse || len(toolUses) == 0 {
			e.terminalWithResult(em, session, metrics, cctx, models.RunCompleted, stopReason, "")
			return
		}
		pendingToolUses = toolUses
	}
}

func (e *Executor) persist(ctx context.Context, session *models.Session, m models.Message) {
	if e.deps.Sessions == nil {
		return
	}
	price := e.deps.Prices[e.cfg.DefaultModel]
	_ = e.deps.Sessions.AppendMessage(ctx, session.ID, m, price)
}

// runFatalHook dispatches ev and reports whether the run must abort: per
// spec §7, HookBlock is fatal specifically on UserPromptSubmit,
// SessionStart, and PreCompact, unlike every other blockable event where a
// Block is handled locally.
func (e *Executor) runFatalHook(ctx context.Context, ev hooks.Event, session *models.Session, toolName string, toolInput json.RawMessage) (blocked bool, reason string) {
	if e.deps.Hooks == nil {
		return false, ""
	}
	decision, err := e.deps.Hooks.Dispatch(ctx, hooks.Input{
		Event:     ev,
		ToolName:  toolName,
		ToolInput: toolInput,
		SessionID: session.ID,
	})
	if err != nil {
		return true, err.Error()
	}
	return decision.Blocked, decision.Reason
}

func (e *Executor) terminal(em *emitter, session *models.Session, metrics *models.Metrics, cctx *agentcontext.Context, state models.RunState, errMsg string) {
	result := e.buildResult(em, session, metrics, cctx, state, "", errMsg)
	em.send(&models.AgentEvent{Type: models.AgentEventRunFinished, Result: &models.ResultEventPayload{Result: result}})
}

func (e *Executor) terminalWithResult(em *emitter, session *models.Session, metrics *models.Metrics, cctx *agentcontext.Context, state models.RunState, stopReason models.StopReason, errMsg string) {
	result := e.buildResult(em, session, metrics, cctx, state, stopReason, errMsg)
	em.send(&models.AgentEvent{Type: models.AgentEventRunFinished, Result: &models.ResultEventPayload{Result: result}})
}

func (e *Executor) fail(em *emitter, session *models.Session, metrics *models.Metrics, cctx *agentcontext.Context, err error) {
	result := e.buildResult(em, session, metrics, cctx, models.RunFailed, "", err.Error())
	em.send(&models.AgentEvent{Type: models.AgentEventRunFinished, Result: &models.ResultEventPayload{Result: result}})
}

func (e *Executor) buildResult(em *emitter, session *models.Session, metrics *models.Metrics, cctx *agentcontext.Context, state models.RunState, stopReason models.StopReason, errMsg string) *models.AgentResult {
	var text string
	messages := cctx.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleAssistant {
			continue
		}
		for _, b := range messages[i].Content {
			if b.Type == models.ContentText && b.Text != nil {
				text = b.Text.Text
				break
			}
		}
		break
	}
	return &models.AgentResult{
		UUID:       uuid.NewString(),
		SessionID:  session.ID,
		Text:       text,
		Messages:   messages,
		ToolCalls:  metrics.ToolCalls,
		Iterations: *em.iter,
		StopReason: stopReason,
		Usage:      cctx.Usage(),
		Metrics:    *metrics,
		State:      state,
		Error:      errMsg,
	}
}

type toolMetricsSink struct{ m *models.Metrics }

func (s toolMetricsSink) RecordToolCall(name string, d time.Duration, isError bool) {
	s.m.ToolCalls++
	if s.m.ToolCallsByName == nil {
		s.m.ToolCallsByName = map[string]int{}
	}
	s.m.ToolCallsByName[name]++
	s.m.ToolTotalTime += d.Milliseconds()
	if isError {
		s.m.ToolErrors++
	}
}

func (s toolMetricsSink) RecordPermissionDenial(name string) { s.m.PermissionDenials++ }

// dispatchTool runs spec §4.10.a's nine-step tool-dispatch sub-algorithm
// for one pending tool-use block and returns the ToolResult content block
// to fold back into the conversation.
func (e *Executor) dispatchTool(ctx context.Context, session *models.Session, tu models.ContentBlock, metrics *models.Metrics, em *emitter) models.ContentBlock {
	toolID, toolName, input := tu.ToolUse.ID, tu.ToolUse.Name, tu.ToolUse.Input

	// Step 1: PreToolUse hooks; a Block here synthesizes ToolStart+ToolEnd
	// and stops short of dispatch, but is not fatal to the run (spec §7:
	// HookBlock is local except on UserPromptSubmit/SessionStart/PreCompact).
	if e.deps.Hooks != nil {
		decision, err := e.deps.Hooks.Dispatch(ctx, hooks.Input{
			Event:     hooks.EventPreToolUse,
			ToolName:  toolName,
			ToolInput: input,
			SessionID: session.ID,
		})
		if err == nil && decision.Blocked {
			em.send(&models.AgentEvent{Type: models.AgentEventToolStarted, Tool: &models.ToolEventPayload{CallID: toolID, Name: toolName, ArgsJSON: input}})
			toolMetricsSink{metrics}.RecordPermissionDenial(toolName)
			em.send(&models.AgentEvent{Type: models.AgentEventToolFinished, Tool: &models.ToolEventPayload{CallID: toolID, Name: toolName, Success: false, ResultJSON: []byte(decision.Reason)}})
			return models.NewToolResultBlock(toolID, fmt.Sprintf("blocked by hook: %s", decision.Reason), true)
		}
		if len(decision.UpdatedInput) > 0 {
			input = decision.UpdatedInput
		}
	}

	em.send(&models.AgentEvent{Type: models.AgentEventToolStarted, Tool: &models.ToolEventPayload{CallID: toolID, Name: toolName, ArgsJSON: input}})

	argSignature := extractArgSignature(input)
	res := e.deps.Tools.Dispatch(ctx, toolName, input, argSignature, e.deps.ExecCtx, e.cfg.ToolTimeout, toolMetricsSink{metrics})

	if res.InnerUsage != nil {
		delta := e.deps.Budget.Record(res.InnerModel, *res.InnerUsage)
		metrics.TotalCostUSD += delta
	}

	if res.IsError && e.deps.Logger != nil && strings.Contains(res.Content, "timed out after") {
		e.deps.Logger.Warn(ctx, "tool call timed out",
			"session_id", session.ID, "tool", toolName, "call_id", toolID)
	}

	if e.deps.Hooks != nil {
		ev := hooks.EventPostToolUse
		if res.IsError {
			ev = hooks.EventPostToolUseFailure
		}
		if _, hookErr := e.deps.Hooks.Dispatch(ctx, hooks.Input{
			Event:     ev,
			ToolName:  toolName,
			ToolInput: input,
			SessionID: session.ID,
		}); hookErr != nil && e.deps.Logger != nil {
			e.deps.Logger.Warn(ctx, "post-tool-use hook failed, continuing (fail-open)",
				"session_id", session.ID, "tool", toolName, "event", string(ev), "error", hookErr.Error())
		}
	}

	if e.deps.Rules != nil {
		if path, ok := extractPath(input); ok {
			if matched, ok := e.deps.Rules.Match(path); ok {
				names := rules.Names(matched)
				e.prompt.WithRulesSummary(e.deps.Rules.Summary(names))
				em.send(&models.AgentEvent{Type: models.AgentEventRulesActivated, Rules: &models.RulesEventPayload{FilePath: path, RuleNames: names}})
			}
		}
	}

	em.send(&models.AgentEvent{Type: models.AgentEventToolFinished, Tool: &models.ToolEventPayload{CallID: toolID, Name: toolName, Success: !res.IsError, ResultJSON: []byte(res.Content)}})

	return models.NewToolResultBlock(toolID, res.Content, res.IsError)
}

// extractArgSignature surfaces a tool-specific opaque string the Permission
// Engine matches against: the "command" field for shell-like tools, else
// the raw input.
func extractArgSignature(input json.RawMessage) string {
	var probe struct {
		Command string `json:"command"`
	}
	if json.Unmarshal(input, &probe) == nil && probe.Command != "" {
		return probe.Command
	}
	return string(input)
}

// extractPath pulls a touched file path out of a tool's input, supporting
// the common key spellings across file-editing tools.
func extractPath(input json.RawMessage) (string, bool) {
	var probe struct {
		Path         string `json:"path"`
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
	}
	if json.Unmarshal(input, &probe) != nil {
		return "", false
	}
	switch {
	case probe.FilePath != "":
		return probe.FilePath, true
	case probe.Path != "":
		return probe.Path, true
	case probe.NotebookPath != "":
		return probe.NotebookPath, true
	default:
		return "", false
	}
}

// callModel runs spec §4.10.b's model-call sub-algorithm: build, send,
// retry exactly once on Unauthorized, accrue usage/cost, and split the
// response into streamed Text events plus a returned content block list.
func (e *Executor) callModel(ctx context.Context, session *models.Session, cctx *agentcontext.Context, metrics *models.Metrics, em *emitter, retried bool) ([]models.ContentBlock, models.StopReason, error) {
	req, err := e.prompt.Build(e.cfg.DefaultModel, e.cfg.MaxTokens, cctx.Messages(), e.deps.Tools.List(), e.cfg.Sampling, true)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelTotalTimeout)
	defer cancel()

	events, errs, err := e.deps.Client.SendStream(callCtx, req)
	if err != nil {
		return e.retryOrFail(ctx, session, cctx, metrics, em, retried, err)
	}

	var finalContent []models.ContentBlock
	var stopReason models.StopReason
	var usage models.Usage
	var streamErr error

	timer := time.NewTimer(e.cfg.ModelChunkTimeout)
	defer timer.Stop()

loop:
	for events != nil || errs != nil {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.cfg.ModelChunkTimeout)

		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Type {
			case modelclient.StreamTextDelta:
				em.send(&models.AgentEvent{Type: models.AgentEventModelDelta, Stream: &models.StreamEventPayload{Delta: ev.TextDelta}})
			case modelclient.StreamMessageStop:
				finalContent = ev.FinalContent
				stopReason = ev.StopReason
				usage = ev.Usage
				break loop
			}
		case err, ok := <-errs:
			if ok && err != nil {
				streamErr = err
			}
			errs = nil
		case <-timer.C:
			streamErr = fmt.Errorf("model stream: no data for %s", e.cfg.ModelChunkTimeout)
			break loop
		case <-callCtx.Done():
			streamErr = callCtx.Err()
			break loop
		}
	}

	if streamErr != nil {
		return e.retryOrFail(ctx, session, cctx, metrics, em, retried, streamErr)
	}

	metrics.APICalls++
	delta := e.deps.Budget.Record(e.cfg.DefaultModel, usage)
	metrics.TotalCostUSD += delta
	cctx.UpdateUsage(usage)

	assistantMsg := models.Message{
		UUID:      uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   finalContent,
		Usage:     &usage,
		CreatedAt: time.Now(),
	}
	cctx.Push(assistantMsg)
	e.persist(ctx, session, assistantMsg)

	return finalContent, stopReason, nil
}

// retryOrFail implements the "on HTTP-unauthorized, refresh credentials
// once and retry" half of spec §4.10.b.
func (e *Executor) retryOrFail(ctx context.Context, session *models.Session, cctx *agentcontext.Context, metrics *models.Metrics, em *emitter, retried bool, err error) ([]models.ContentBlock, models.StopReason, error) {
	if retried || !e.deps.Client.IsUnauthorized(err) {
		return nil, "", fmt.Errorf("model call: %w", err)
	}
	if refreshErr := e.deps.Client.RefreshCredentials(ctx); refreshErr != nil {
		return nil, "", fmt.Errorf("model call: unauthorized, refresh failed: %w", err)
	}
	return e.callModel(ctx, session, cctx, metrics, em, true)
}

// modelSummarizer adapts a modelclient.Client into agentcontext.Summarizer
// using a dedicated compaction prompt, per spec §4.10.c.
type modelSummarizer struct {
	client modelclient.Client
	model  string
}

const defaultCompactionPrompt = "Summarize the conversation above so it can be used in place of the messages being dropped. Preserve decisions, open questions, file paths, and any unresolved tasks."

func (s *modelSummarizer) Summarize(ctx context.Context, messages []models.Message, customInstructions string) (string, models.Usage, error) {
	prompt := defaultCompactionPrompt
	if customInstructions != "" {
		prompt += "\n\n" + customInstructions
	}
	req := &requestbuilder.Request{
		Model:     s.model,
		MaxTokens: 2048,
		Messages:  messages,
		System:    []requestbuilder.SystemBlock{{Name: "compaction", Content: prompt, TTL: requestbuilder.CacheTTLNone}},
	}
	resp, err := s.client.Send(ctx, req)
	if err != nil {
		return "", models.Usage{}, err
	}
	var text string
	for _, b := range resp.Content {
		if b.Type == models.ContentText && b.Text != nil {
			text += b.Text.Text
		}
	}
	return text, resp.Usage, nil
}

// maybeCompact runs spec §4.10.c's auto-compaction sub-algorithm. It
// reports false only when PreCompact itself is blocked, which spec §7
// makes fatal to the run; any other compaction failure is absorbed here
// (no CompactCompleted is emitted, and the run proceeds uncompacted).
func (e *Executor) maybeCompact(ctx context.Context, session *models.Session, cctx *agentcontext.Context, em *emitter) bool {
	if blocked, _ := e.runFatalHook(ctx, hooks.EventPreCompact, session, "", nil); blocked {
		return false
	}

	em.send(&models.AgentEvent{Type: models.AgentEventCompactStarted})

	summarizer := &modelSummarizer{client: e.deps.Client, model: e.compactionModel()}
	record, err := cctx.Compact(ctx, summarizer, e.cfg.CompactionInstructions)
	if err != nil {
		if e.deps.Logger != nil {
			e.deps.Logger.Warn(ctx, "auto-compaction failed, continuing uncompacted",
				"session_id", session.ID, "error", err.Error())
		}
		return true
	}

	reminder := agentcontext.SystemReminderMessage(session.ID, session.Todos, session.Plan, e.runningSubagents(), e.runningProcesses())
	cctx.Push(reminder)
	e.persist(ctx, session, reminder)

	if e.deps.Sessions != nil {
		session.CompactHistory = append(session.CompactHistory, *record)
	}

	em.send(&models.AgentEvent{Type: models.AgentEventCompactCompleted, Compact: &models.CompactEventPayload{
		PreTokens:  record.PreTokens,
		PostTokens: record.PostTokens,
	}})
	return true
}

// runningSubagents snapshots the Task Registry's active entries for the
// post-compaction system reminder; nil if this run has no Task Registry.
func (e *Executor) runningSubagents() []models.SubagentEntry {
	if e.deps.Tasks == nil {
		return nil
	}
	return e.deps.Tasks.ListRunning()
}

// runningProcesses snapshots the Process Manager's tracked processes for
// the post-compaction system reminder; nil if this run has no Process
// Manager.
func (e *Executor) runningProcesses() []models.BackgroundProcess {
	if e.deps.Processes == nil {
		return nil
	}
	snapshots := e.deps.Processes.List()
	out := make([]models.BackgroundProcess, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, models.BackgroundProcess{
			ID:        s.ID,
			Command:   s.Command,
			Cwd:       s.Cwd,
			PID:       s.PID,
			Running:   s.Status == processmgr.StatusRunning,
			StartedAt: s.StartedAt,
		})
	}
	return out
}

func (e *Executor) compactionModel() string {
	if e.cfg.CompactionModel != "" {
		return e.cfg.CompactionModel
	}
	return e.cfg.DefaultModel
}
