package executor

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/budget"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/permission"
	"github.com/haasonsaas/nexus/internal/requestbuilder"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/pkg/models"
)

// streamTurn scripts one SendStream call's worth of events for fakeClient.
type streamTurn struct {
	deltas     []string
	toolUse    *models.ToolUseBlock
	stopReason models.StopReason
	usage      models.Usage
	err        error
}

// fakeClient is a scripted modelclient.Client: turn picks what the call-th
// SendStream invocation returns, given the request actually built for it
// (so a later turn can react to an earlier tool result, as Scenario E's
// TaskOutput poll needs to).
type fakeClient struct {
	mu       sync.Mutex
	calls    int
	turn     func(call int, req *requestbuilder.Request) streamTurn
	requests []*requestbuilder.Request

	sendResp *modelclient.Response
	sendErr  error
}

func fixedTurns(turns ...streamTurn) func(call int, req *requestbuilder.Request) streamTurn {
	return func(call int, _ *requestbuilder.Request) streamTurn {
		if call >= len(turns) {
			call = len(turns) - 1
		}
		return turns[call]
	}
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Send(ctx context.Context, req *requestbuilder.Request) (*modelclient.Response, error) {
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	if c.sendResp != nil {
		return c.sendResp, nil
	}
	return &modelclient.Response{Content: []models.ContentBlock{models.NewTextBlock("summary")}, StopReason: models.StopEndTurn}, nil
}

func (c *fakeClient) SendStream(ctx context.Context, req *requestbuilder.Request) (<-chan modelclient.StreamEvent, <-chan error, error) {
	c.mu.Lock()
	call := c.calls
	c.calls++
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	t := c.turn(call, req)

	events := make(chan modelclient.StreamEvent, len(t.deltas)+1)
	errs := make(chan error, 1)

	if t.err != nil {
		errs <- t.err
		close(events)
		close(errs)
		return events, errs, nil
	}

	var final []models.ContentBlock
	for _, d := range t.deltas {
		events <- modelclient.StreamEvent{Type: modelclient.StreamTextDelta, TextDelta: d}
	}
	switch {
	case t.toolUse != nil:
		final = []models.ContentBlock{models.NewToolUseBlock(t.toolUse.ID, t.toolUse.Name, t.toolUse.Input)}
	case len(t.deltas) > 0:
		final = []models.ContentBlock{models.NewTextBlock(strings.Join(t.deltas, ""))}
	}
	events <- modelclient.StreamEvent{Type: modelclient.StreamMessageStop, StopReason: t.stopReason, FinalContent: final, Usage: t.usage}
	close(events)
	close(errs)
	return events, errs, nil
}

func (c *fakeClient) RefreshCredentials(ctx context.Context) error { return nil }
func (c *fakeClient) IsUnauthorized(err error) bool                { return false }

// fakeTool is a minimal toolregistry.Tool whose Execute is scripted.
type fakeTool struct {
	name   string
	mu     sync.Mutex
	calls  int
	result *toolregistry.ToolResult
	err    error
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake tool used in executor tests" }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *fakeTool) Execute(ctx context.Context, input json.RawMessage, execCtx *toolregistry.ExecutionContext) (*toolregistry.ToolResult, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	if t.result != nil {
		return t.result, nil
	}
	return toolregistry.Success("ok"), nil
}

// fakeTaskTool and fakeTaskOutputTool exercise the Streaming Executor's
// generic nested-run machinery (Deps.Tasks, a Spawner-style closure over a
// second Executor) the same way internal/tools/task's concrete Task and
// TaskOutput tools do, without importing that package — it in turn imports
// this one, so an executor-package test cannot depend on it directly.
type fakeTaskTool struct {
	registry *tasks.Registry
	spawn    func(agentType string) *Executor
}

func (t *fakeTaskTool) Name() string            { return "Task" }
func (t *fakeTaskTool) Description() string     { return "spawn a subagent" }
func (t *fakeTaskTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *fakeTaskTool) Execute(ctx context.Context, input json.RawMessage, execCtx *toolregistry.ExecutionContext) (*toolregistry.ToolResult, error) {
	var in struct {
		SubagentType string `json:"subagent_type"`
		Description  string `json:"description"`
		Prompt       string `json:"prompt"`
	}
	_ = json.Unmarshal(input, &in)

	taskID := uuid.NewString()
	childSessionID := uuid.NewString()
	cancelCh := t.registry.Register(ctx, taskID, execCtx.SessionID, childSessionID, in.SubagentType, in.Description)

	sub := t.spawn(in.SubagentType)
	session := &models.Session{ID: childSessionID, State: models.SessionActive, Kind: models.SessionKindSubagent}
	userMsg := models.Message{UUID: uuid.NewString(), SessionID: childSessionID, Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock(in.Prompt)}}

	go func() {
		events := sub.Run(context.Background(), session, nil, userMsg, cancelCh)
		var result *models.AgentResult
		for ev := range events {
			if ev.Type == models.AgentEventRunFinished && ev.Result != nil {
				result = ev.Result.Result
			}
		}
		if result == nil || result.State == models.RunFailed {
			errText := "subagent produced no result"
			if result != nil {
				errText = result.Error
			}
			_ = t.registry.Fail(context.Background(), taskID, errors.New(errText))
			return
		}
		_ = t.registry.Complete(context.Background(), taskID, result.Text)
	}()

	payload, _ := json.Marshal(map[string]string{"task_id": taskID, "status": "running"})
	return toolregistry.Success(string(payload)), nil
}

type fakeTaskOutputTool struct {
	registry *tasks.Registry
}

func (t *fakeTaskOutputTool) Name() string            { return "TaskOutput" }
func (t *fakeTaskOutputTool) Description() string     { return "poll a subagent's result" }
func (t *fakeTaskOutputTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *fakeTaskOutputTool) Execute(ctx context.Context, input json.RawMessage, execCtx *toolregistry.ExecutionContext) (*toolregistry.ToolResult, error) {
	var in struct {
		TaskID    string `json:"task_id"`
		Block     bool   `json:"block"`
		TimeoutMs int    `json:"timeout_ms"`
	}
	_ = json.Unmarshal(input, &in)

	timeout := time.Duration(in.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	entry, err := t.registry.WaitForCompletion(in.TaskID, timeout)
	if err != nil {
		return toolregistry.Error(err.Error()), nil
	}
	resp := map[string]string{"status": string(entry.State)}
	if result, taskErr, ok, _ := t.registry.GetResult(in.TaskID); ok {
		resp["output"] = result
		if taskErr != nil {
			resp["error"] = taskErr.Error()
		}
	}
	payload, _ := json.Marshal(resp)
	return toolregistry.Success(string(payload)), nil
}

// extractTaskID pulls the task_id out of the most recent tool-result
// message in req, letting a scripted model turn react to a tool call made
// earlier in the same run.
func extractTaskID(req *requestbuilder.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	last := req.Messages[len(req.Messages)-1]
	for _, b := range last.Content {
		if b.Type == models.ContentToolResult && b.ToolResult != nil {
			var payload struct {
				TaskID string `json:"task_id"`
			}
			if json.Unmarshal([]byte(b.ToolResult.Content), &payload) == nil {
				return payload.TaskID
			}
		}
	}
	return ""
}

func collect(events <-chan *models.AgentEvent) []*models.AgentEvent {
	var out []*models.AgentEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []*models.AgentEvent) []models.AgentEventType {
	out := make([]models.AgentEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// baseDeps builds a minimal, valid Deps for sessionID: bypass permissions,
// an empty hook manager (no hooks registered is a no-op, fail-open
// everywhere), an unlimited (limitUSD<=0) budget tracker, and a fresh tool
// registry the caller populates per scenario.
func baseDeps(client modelclient.Client, sessionID string, limitUSD float64, prices map[string]models.ModelPrice) Deps {
	return Deps{
		Client: client,
		Tools:  toolregistry.New(),
		Hooks:  hooks.New(),
		Budget: budget.NewTracker(limitUSD, prices).WithTenant(nil),
		ExecCtx: &toolregistry.ExecutionContext{
			SessionID:     sessionID,
			WorkspaceRoot: "/tmp",
			Permission:    permission.New(permission.ModeBypass, nil, nil),
		},
		Prices: prices,
	}
}

func newBuilder(base string) *requestbuilder.Builder {
	return requestbuilder.New(base, "", requestbuilder.PromptReplace)
}

// Scenario A: a simple turn with no tool use.
func TestScenarioASimpleTurn(t *testing.T) {
	client := &fakeClient{turn: fixedTurns(streamTurn{deltas: []string{"Hello"}, stopReason: models.StopEndTurn})}
	deps := baseDeps(client, "s1", 0, nil)
	ex := New(deps, Config{DefaultModel: "fake-model"}, newBuilder("base"))

	session := &models.Session{ID: "s1"}
	userMsg := models.Message{UUID: "u1", SessionID: "s1", Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("hi")}}

	events := collect(ex.Run(context.Background(), session, nil, userMsg, nil))
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	last := events[len(events)-1]
	if last.Type != models.AgentEventRunFinished {
		t.Fatalf("expected last event to be run.finished, got %s", last.Type)
	}
	result := last.Result.Result
	if result.State != models.RunCompleted {
		t.Fatalf("expected RunCompleted, got %s (err=%q)", result.State, result.Error)
	}
	if result.StopReason != models.StopEndTurn {
		t.Fatalf("expected StopEndTurn, got %s", result.StopReason)
	}
	if result.Text != "Hello" {
		t.Fatalf("expected text %q, got %q", "Hello", result.Text)
	}
	if result.Metrics.APICalls != 1 {
		t.Fatalf("expected 1 API call, got %d", result.Metrics.APICalls)
	}
}

// Scenario B: one tool roundtrip, with the exact event ordering spec §8
// demands: ToolStart -> ToolEnd -> ContextUpdate -> Text -> Complete.
func TestScenarioBToolRoundtrip(t *testing.T) {
	tool := &fakeTool{name: "Echo"}
	client := &fakeClient{turn: fixedTurns(
		streamTurn{toolUse: &models.ToolUseBlock{ID: "call1", Name: "Echo", Input: json.RawMessage(`{"text":"hi"}`)}, stopReason: models.StopToolUse},
		streamTurn{deltas: []string{"done"}, stopReason: models.StopEndTurn},
	)}
	deps := baseDeps(client, "s1", 0, nil)
	if err := deps.Tools.RegisterDynamic(tool); err != nil {
		t.Fatalf("RegisterDynamic: %v", err)
	}
	ex := New(deps, Config{DefaultModel: "fake-model"}, newBuilder("base"))

	session := &models.Session{ID: "s1"}
	userMsg := models.Message{UUID: "u1", SessionID: "s1", Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("use echo")}}

	events := collect(ex.Run(context.Background(), session, nil, userMsg, nil))
	want := []models.AgentEventType{
		models.AgentEventToolStarted,
		models.AgentEventToolFinished,
		models.AgentEventContextUpdated,
		models.AgentEventModelDelta,
		models.AgentEventRunFinished,
	}
	if got := eventTypes(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event order = %v, want %v", got, want)
	}

	if tool.calls != 1 {
		t.Fatalf("expected tool called once, got %d", tool.calls)
	}
	result := events[len(events)-1].Result.Result
	if result.Metrics.ToolCalls != 1 {
		t.Fatalf("expected metrics.tool_calls=1, got %d", result.Metrics.ToolCalls)
	}
	if result.Metrics.APICalls != 2 {
		t.Fatalf("expected metrics.api_calls=2, got %d", result.Metrics.APICalls)
	}
}

// Scenario C: a tool call denied by the Permission Engine never reaches
// the tool's Execute, and is reported as an error result containing why.
func TestScenarioCPermissionDenial(t *testing.T) {
	tool := &fakeTool{name: "Bash"}
	client := &fakeClient{turn: fixedTurns(
		streamTurn{toolUse: &models.ToolUseBlock{ID: "call1", Name: "Bash", Input: json.RawMessage(`{"command":"ls"}`)}, stopReason: models.StopToolUse},
		streamTurn{deltas: []string{"ok"}, stopReason: models.StopEndTurn},
	)}
	deps := baseDeps(client, "s1", 0, nil)
	deps.ExecCtx.Permission = permission.New(permission.ModeDefault, nil, nil) // default mode, no allow rules: deny everything
	if err := deps.Tools.RegisterDynamic(tool); err != nil {
		t.Fatalf("RegisterDynamic: %v", err)
	}
	ex := New(deps, Config{DefaultModel: "fake-model"}, newBuilder("base"))

	session := &models.Session{ID: "s1"}
	userMsg := models.Message{UUID: "u1", SessionID: "s1", Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("run ls")}}

	events := collect(ex.Run(context.Background(), session, nil, userMsg, nil))

	var finished *models.AgentEvent
	for _, ev := range events {
		if ev.Type == models.AgentEventToolFinished {
			finished = ev
		}
	}
	if finished == nil {
		t.Fatal("expected a tool.finished event")
	}
	if finished.Tool.Success {
		t.Fatal("expected the denied tool call to be reported as unsuccessful")
	}
	if !strings.Contains(string(finished.Tool.ResultJSON), "permission") {
		t.Fatalf("expected result to mention permission, got %q", finished.Tool.ResultJSON)
	}
	if tool.calls != 0 {
		t.Fatalf("expected Bash.Execute never to run, got %d calls", tool.calls)
	}
}

// Scenario D: crossing the compaction threshold mid-run triggers
// CompactStarted -> CompactCompleted, and the next model call is built
// against the summarized, shrunk message list.
func TestScenarioDAutoCompaction(t *testing.T) {
	bigText := strings.Repeat("x", 700_000) // ~175,000 estimated tokens
	seed := []models.Message{{
		UUID:      "seed1",
		SessionID: "s1",
		Role:      models.RoleAssistant,
		Content:   []models.ContentBlock{models.NewTextBlock(bigText)},
	}}

	tool := &fakeTool{name: "Echo"}
	client := &fakeClient{
		turn: fixedTurns(
			streamTurn{toolUse: &models.ToolUseBlock{ID: "call1", Name: "Echo", Input: json.RawMessage(`{}`)}, stopReason: models.StopToolUse},
			streamTurn{deltas: []string{"done"}, stopReason: models.StopEndTurn},
		),
		sendResp: &modelclient.Response{Content: []models.ContentBlock{models.NewTextBlock("short summary")}},
	}
	deps := baseDeps(client, "s1", 0, nil)
	if err := deps.Tools.RegisterDynamic(tool); err != nil {
		t.Fatalf("RegisterDynamic: %v", err)
	}
	ex := New(deps, Config{
		DefaultModel:            "fake-model",
		ContextWindowTokens:     200_000,
		CompactThresholdPercent: 80,
		CompactKeepLastN:        0,
	}, newBuilder("base"))

	session := &models.Session{ID: "s1"}
	userMsg := models.Message{UUID: "u1", SessionID: "s1", Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("use echo")}}

	events := collect(ex.Run(context.Background(), session, seed, userMsg, nil))

	startIdx, completeIdx := -1, -1
	for i, ev := range events {
		switch ev.Type {
		case models.AgentEventCompactStarted:
			startIdx = i
		case models.AgentEventCompactCompleted:
			completeIdx = i
		}
	}
	if startIdx == -1 || completeIdx == -1 || completeIdx <= startIdx {
		t.Fatalf("expected CompactStarted before CompactCompleted, got events %v", eventTypes(events))
	}
	payload := events[completeIdx].Compact
	if payload.PreTokens < 160_000 {
		t.Fatalf("expected pre-compaction tokens over threshold, got %d", payload.PreTokens)
	}
	if payload.PostTokens >= payload.PreTokens {
		t.Fatalf("expected compaction to shrink the token estimate, pre=%d post=%d", payload.PreTokens, payload.PostTokens)
	}

	if len(client.requests) != 2 {
		t.Fatalf("expected 2 SendStream calls, got %d", len(client.requests))
	}
	if got := len(client.requests[1].Messages); got != 2 {
		t.Fatalf("expected post-compaction request to carry 2 messages (summary + reminder), got %d", got)
	}

	last := events[len(events)-1]
	if last.Result.Result.State != models.RunCompleted {
		t.Fatalf("expected run to complete after compacting, got %s", last.Result.Result.State)
	}
}

// Scenario E: a Task tool call spawns a nested run tracked by the Task
// Registry; TaskOutput blocks until it finishes and returns its result.
func TestScenarioESubagentLifecycle(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	registry := tasks.New(store)

	subClient := &fakeClient{turn: fixedTurns(streamTurn{deltas: []string{"sub result"}, stopReason: models.StopEndTurn})}
	subDeps := baseDeps(subClient, "", 0, nil)
	spawn := func(agentType string) *Executor {
		return New(subDeps, Config{DefaultModel: "fake-model"}, newBuilder("sub"))
	}

	parentClient := &fakeClient{turn: func(call int, req *requestbuilder.Request) streamTurn {
		switch call {
		case 0:
			return streamTurn{toolUse: &models.ToolUseBlock{ID: "call1", Name: "Task", Input: json.RawMessage(`{"subagent_type":"explorer","description":"look","prompt":"go look"}`)}, stopReason: models.StopToolUse}
		case 1:
			taskID := extractTaskID(req)
			input, _ := json.Marshal(map[string]any{"task_id": taskID, "block": true, "timeout_ms": 2000})
			return streamTurn{toolUse: &models.ToolUseBlock{ID: "call2", Name: "TaskOutput", Input: input}, stopReason: models.StopToolUse}
		default:
			return streamTurn{deltas: []string{"parent done"}, stopReason: models.StopEndTurn}
		}
	}}
	deps := baseDeps(parentClient, "parent-session", 0, nil)
	deps.Tasks = registry
	if err := deps.Tools.RegisterDynamic(&fakeTaskTool{registry: registry, spawn: spawn}); err != nil {
		t.Fatalf("RegisterDynamic Task: %v", err)
	}
	if err := deps.Tools.RegisterDynamic(&fakeTaskOutputTool{registry: registry}); err != nil {
		t.Fatalf("RegisterDynamic TaskOutput: %v", err)
	}
	ex := New(deps, Config{DefaultModel: "fake-model"}, newBuilder("parent"))

	session := &models.Session{ID: "parent-session"}
	userMsg := models.Message{UUID: "u1", SessionID: "parent-session", Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("do the task")}}

	events := collect(ex.Run(context.Background(), session, nil, userMsg, nil))
	last := events[len(events)-1]
	if last.Type != models.AgentEventRunFinished || last.Result.Result.State != models.RunCompleted {
		t.Fatalf("expected completed run, got %+v", last)
	}
	if last.Result.Result.Text != "parent done" {
		t.Fatalf("unexpected final text %q", last.Result.Result.Text)
	}

	children, err := store.ListChildren(context.Background(), "parent-session")
	if err != nil || len(children) != 1 {
		t.Fatalf("expected one persisted subagent session, got %v err=%v", children, err)
	}
	if children[0].State != models.SessionCompleted {
		t.Fatalf("expected subagent session completed, got %s", children[0].State)
	}
}

// Scenario F: budget exceeded mid-stream fails the run at the next
// dispatch boundary rather than mid-tool-call.
func TestScenarioFBudgetExceeded(t *testing.T) {
	tool := &fakeTool{name: "Echo"}
	client := &fakeClient{turn: fixedTurns(
		streamTurn{toolUse: &models.ToolUseBlock{ID: "call1", Name: "Echo", Input: json.RawMessage(`{}`)}, stopReason: models.StopToolUse, usage: models.Usage{InputTokens: 1_000_000}},
		streamTurn{deltas: []string{"never reached"}, stopReason: models.StopEndTurn},
	)}
	prices := map[string]models.ModelPrice{"fake-model": {InputPerMTok: 1}}
	deps := baseDeps(client, "s1", 0.5, prices)
	if err := deps.Tools.RegisterDynamic(tool); err != nil {
		t.Fatalf("RegisterDynamic: %v", err)
	}
	ex := New(deps, Config{DefaultModel: "fake-model"}, newBuilder("base"))

	session := &models.Session{ID: "s1"}
	userMsg := models.Message{UUID: "u1", SessionID: "s1", Role: models.RoleUser, Content: []models.ContentBlock{models.NewTextBlock("use echo")}}

	events := collect(ex.Run(context.Background(), session, nil, userMsg, nil))
	last := events[len(events)-1]
	if last.Type != models.AgentEventRunFinished {
		t.Fatalf("expected last event to be run.finished, got %s", last.Type)
	}
	result := last.Result.Result
	if result.State != models.RunFailed {
		t.Fatalf("expected RunFailed, got %s", result.State)
	}
	if !strings.Contains(result.Error, "budget exceeded") {
		t.Fatalf("expected budget-exceeded error, got %q", result.Error)
	}
	if result.Metrics.APICalls != 1 {
		t.Fatalf("expected exactly 1 API call before the budget check stopped the run, got %d", result.Metrics.APICalls)
	}
}
