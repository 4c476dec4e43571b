// Package task implements the Task and TaskOutput tools of spec §4.7: Task
// spawns an inner agent run against the Task Registry, TaskOutput polls it.
// Grounded on the teacher's internal/multiagent subagent-dispatch entry
// points, adapted from its own routing layer onto this repo's
// executor.Executor/tasks.Registry pair.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/executor"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/pkg/models"
)

// runningHandle adapts a cancelFunc into tasks.Handle.
type runningHandle struct{ cancel context.CancelFunc }

func (h runningHandle) Stop() { h.cancel() }

// Spawner builds a fresh Executor for one subagent run. cmd/nexus supplies
// a closure over the shared Deps/Config/prompt so every Task invocation
// runs against the same model client, tool registry, and budget tracker as
// its parent, per spec §5 ("sibling subagents ... run on independent
// cooperative loops atop a shared thread pool").
type Spawner func(agentType string) *executor.Executor

// Tool implements the Task tool: spawns a nested agent run for agentType,
// seeded with description as the subagent's prompt, and registers its
// lifecycle with the Task Registry.
type Tool struct {
	registry *tasks.Registry
	spawn    Spawner
}

// New constructs the Task tool.
func New(registry *tasks.Registry, spawn Spawner) *Tool {
	return &Tool{registry: registry, spawn: spawn}
}

func (t *Tool) Name() string        { return "Task" }
func (t *Tool) Description() string { return "Spawn a subagent to carry out a focused piece of work and report back a result." }

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"subagent_type": {"type": "string", "description": "Which subagent persona to run."},
			"description":   {"type": "string", "description": "Short human-readable description of the task."},
			"prompt":        {"type": "string", "description": "The instructions given to the subagent."}
		},
		"required": ["subagent_type", "description", "prompt"]
	}`)
}

type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
}

// Execute registers a new task, spawns its Executor run in a background
// goroutine, and returns immediately with the task id — TaskOutput is how
// a caller later observes completion, matching spec §4.7's
// register/set_handle/complete split.
func (t *Tool) Execute(ctx context.Context, input json.RawMessage, execCtx *toolregistry.ExecutionContext) (*toolregistry.ToolResult, error) {
	var in taskInput
	if err := json.Unmarshal(input, &in); err != nil {
		return toolregistry.Error(fmt.Sprintf("invalid Task input: %v", err)), nil
	}
	if in.SubagentType == "" || in.Prompt == "" {
		return toolregistry.Error("subagent_type and prompt are required"), nil
	}

	taskID := uuid.NewString()
	childSessionID := uuid.NewString()
	parentSessionID := execCtx.SessionID

	runCtx, cancel := context.WithCancel(context.Background())
	cancelCh := t.registry.Register(ctx, taskID, parentSessionID, childSessionID, in.SubagentType, in.Description)
	_ = t.registry.SetHandle(taskID, runningHandle{cancel: cancel})

	exec := t.spawn(in.SubagentType)
	session := &models.Session{
		ID:       childSessionID,
		ParentID: &parentSessionID,
		State:    models.SessionActive,
		Kind:     models.SessionKindSubagent,
		Subagent: &models.SubagentInfo{AgentType: in.SubagentType, Description: in.Description},
	}
	userMsg := models.Message{
		UUID:      uuid.NewString(),
		SessionID: childSessionID,
		Role:      models.RoleUser,
		Content:   []models.ContentBlock{models.NewTextBlock(in.Prompt)},
		CreatedAt: time.Now(),
	}

	go func() {
		events := exec.Run(runCtx, session, nil, userMsg, cancelCh)
		var result *models.AgentResult
		for ev := range events {
			if ev.Type == models.AgentEventRunFinished && ev.Result != nil {
				result = ev.Result.Result
			}
		}
		if result == nil {
			_ = t.registry.Fail(context.Background(), taskID, fmt.Errorf("subagent run produced no result"))
			return
		}
		if result.State == models.RunFailed {
			_ = t.registry.Fail(context.Background(), taskID, fmt.Errorf("%s", result.Error))
			return
		}
		_ = t.registry.Complete(context.Background(), taskID, result.Text)
	}()

	payload, _ := json.Marshal(map[string]string{"task_id": taskID, "status": "running"})
	return toolregistry.Success(string(payload)), nil
}

// OutputTool implements TaskOutput: polls or blocks on a Task's completion.
type OutputTool struct {
	registry *tasks.Registry
}

// NewOutput constructs the TaskOutput tool.
func NewOutput(registry *tasks.Registry) *OutputTool {
	return &OutputTool{registry: registry}
}

func (t *OutputTool) Name() string        { return "TaskOutput" }
func (t *OutputTool) Description() string { return "Poll or block on a Task tool invocation's result." }

func (t *OutputTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id":     {"type": "string"},
			"block":       {"type": "boolean", "description": "Block until the task reaches a terminal state."},
			"timeout_ms":  {"type": "integer", "description": "Max time to block, in milliseconds (default 30000)."}
		},
		"required": ["task_id"]
	}`)
}

type outputInput struct {
	TaskID    string `json:"task_id"`
	Block     bool   `json:"block"`
	TimeoutMs int    `json:"timeout_ms"`
}

type outputResponse struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (t *OutputTool) Execute(ctx context.Context, input json.RawMessage, execCtx *toolregistry.ExecutionContext) (*toolregistry.ToolResult, error) {
	var in outputInput
	if err := json.Unmarshal(input, &in); err != nil {
		return toolregistry.Error(fmt.Sprintf("invalid TaskOutput input: %v", err)), nil
	}
	if in.TaskID == "" {
		return toolregistry.Error("task_id is required"), nil
	}

	var entry models.SubagentEntry
	var err error
	if in.Block {
		timeout := time.Duration(in.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		entry, err = t.registry.WaitForCompletion(in.TaskID, timeout)
	} else {
		entry, err = t.registry.GetStatus(in.TaskID)
	}
	if err != nil {
		return toolregistry.Error(err.Error()), nil
	}

	resp := outputResponse{Status: string(entry.State)}
	if entry.State == models.SubagentCompleted || entry.State == models.SubagentFailed {
		result, taskErr, ok, resultErr := t.registry.GetResult(in.TaskID)
		if resultErr == nil && ok {
			resp.Output = result
			if taskErr != nil {
				resp.Error = taskErr.Error()
			}
		}
	}
	payload, _ := json.Marshal(resp)
	return toolregistry.Success(string(payload)), nil
}
