package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
)

type fakeHook struct {
	name      string
	events    []Event
	toolMatch *regexp.Regexp
	decision  Decision
	err       error
	calls     *[]string
}

func (h *fakeHook) Name() string              { return h.name }
func (h *fakeHook) Events() []Event           { return h.events }
func (h *fakeHook) ToolMatch() *regexp.Regexp { return h.toolMatch }
func (h *fakeHook) Run(ctx context.Context, in Input) (Decision, error) {
	if h.calls != nil {
		*h.calls = append(*h.calls, h.name)
	}
	return h.decision, h.err
}

func TestDispatchRunsHooksInRegistrationOrder(t *testing.T) {
	m := New()
	var calls []string
	m.Register(&fakeHook{name: "first", events: []Event{EventPreToolUse}, calls: &calls})
	m.Register(&fakeHook{name: "second", events: []Event{EventPreToolUse}, calls: &calls})

	if _, err := m.Dispatch(context.Background(), Input{Event: EventPreToolUse, ToolName: "Bash"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestDispatchBlockShortCircuits(t *testing.T) {
	m := New()
	var calls []string
	m.Register(&fakeHook{name: "blocker", events: []Event{EventPreToolUse}, decision: Decision{Blocked: true, Reason: "nope"}, calls: &calls})
	m.Register(&fakeHook{name: "never-run", events: []Event{EventPreToolUse}, calls: &calls})

	decision, err := m.Dispatch(context.Background(), Input{Event: EventPreToolUse, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !decision.Blocked || decision.Reason != "nope" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if len(calls) != 1 {
		t.Fatalf("expected short-circuit after block, got calls=%v", calls)
	}
}

func TestDispatchToolMatchSkipsNonMatchingTools(t *testing.T) {
	m := New()
	var calls []string
	m.Register(&fakeHook{
		name:      "bash-only",
		events:    []Event{EventPreToolUse},
		toolMatch: regexp.MustCompile(`^Bash$`),
		calls:     &calls,
	})

	if _, err := m.Dispatch(context.Background(), Input{Event: EventPreToolUse, ToolName: "Read"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected tool-name filter to skip hook, got calls=%v", calls)
	}
}

func TestDispatchErrorFailsClosedOnBlockableEvent(t *testing.T) {
	m := New()
	m.Register(&fakeHook{name: "broken", events: []Event{EventPreToolUse}, err: errors.New("boom")})

	decision, err := m.Dispatch(context.Background(), Input{Event: EventPreToolUse, ToolName: "Bash"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !decision.Blocked {
		t.Fatalf("expected blockable event to fail closed on hook error")
	}
}

func TestDispatchErrorFailsOpenOnNonBlockableEvent(t *testing.T) {
	m := New()
	m.Register(&fakeHook{name: "broken", events: []Event{EventSessionEnd}, err: errors.New("boom")})

	decision, err := m.Dispatch(context.Background(), Input{Event: EventSessionEnd})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if decision.Blocked {
		t.Fatalf("expected fail-open event to allow despite hook error")
	}
}

func TestDispatchThreadsUpdatedInputThroughSubsequentHooks(t *testing.T) {
	m := New()
	updated, _ := json.Marshal(map[string]string{"command": "ls -la"})
	m.Register(&fakeHook{name: "rewriter", events: []Event{EventPreToolUse}, decision: Decision{UpdatedInput: updated}})

	m.Register(&fakeHook{
		name:   "observer",
		events: []Event{EventPreToolUse},
	})

	decision, err := m.Dispatch(context.Background(), Input{Event: EventPreToolUse, ToolName: "Bash", ToolInput: json.RawMessage(`{"command":"ls"}`)})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(decision.UpdatedInput) != string(updated) {
		t.Fatalf("expected final decision to carry updated input, got %s", decision.UpdatedInput)
	}
}

func TestCommandHookDefaultTimeoutApplied(t *testing.T) {
	h := NewCommandHook("test", []Event{EventPreToolUse}, nil, "true", nil, 0)
	if h.timeout != DefaultCommandHookTimeout {
		t.Fatalf("expected default timeout, got %v", h.timeout)
	}
}
