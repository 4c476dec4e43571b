package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeHandle struct{ stopped bool }

func (h *fakeHandle) Stop() { h.stopped = true }

func TestCancelIsIdempotent(t *testing.T) {
	r := New(nil)
	r.Register(context.Background(), "t1", "parent", "child", "explorer", "look around")

	ok, err := r.Cancel(context.Background(), "t1")
	if err != nil || !ok {
		t.Fatalf("expected first cancel to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = r.Cancel(context.Background(), "t1")
	if err != nil || ok {
		t.Fatalf("expected second cancel to be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestCancelStopsHandleRegisteredAfterCancel(t *testing.T) {
	r := New(nil)
	r.Register(context.Background(), "t1", "parent", "child", "explorer", "look around")
	if _, err := r.Cancel(context.Background(), "t1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	h := &fakeHandle{}
	if err := r.SetHandle("t1", h); err != nil {
		t.Fatalf("SetHandle: %v", err)
	}
	if !h.stopped {
		t.Fatalf("expected handle attached after cancel to be stopped immediately")
	}
}

func TestCompleteRecordsResultAndStatus(t *testing.T) {
	r := New(nil)
	r.Register(context.Background(), "t1", "parent", "child", "explorer", "look around")
	if err := r.Complete(context.Background(), "t1", "done looking"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	status, err := r.GetStatus("t1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != models.SubagentCompleted {
		t.Fatalf("expected state completed, got %s", status.State)
	}

	result, taskErr, ok, err := r.GetResult("t1")
	if err != nil || !ok {
		t.Fatalf("GetResult: ok=%v err=%v", ok, err)
	}
	if taskErr != nil {
		t.Fatalf("expected nil task error, got %v", taskErr)
	}
	if result != "done looking" {
		t.Fatalf("unexpected result %q", result)
	}
}

func TestFailRecordsError(t *testing.T) {
	r := New(nil)
	r.Register(context.Background(), "t1", "parent", "child", "explorer", "look around")
	failErr := errors.New("boom")
	if err := r.Fail(context.Background(), "t1", failErr); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	status, err := r.GetStatus("t1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != models.SubagentFailed || status.Error != "boom" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestWaitForCompletionReturnsOnceDone(t *testing.T) {
	r := New(nil)
	r.Register(context.Background(), "t1", "parent", "child", "explorer", "look around")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Complete(context.Background(), "t1", "finished")
	}()

	status, err := r.WaitForCompletion("t1", time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if status.State != models.SubagentCompleted {
		t.Fatalf("expected completed state, got %s", status.State)
	}
}

func TestGetStatusUnknownTaskErrors(t *testing.T) {
	r := New(nil)
	if _, err := r.GetStatus("missing"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestListRunningOnlyIncludesActiveTasks(t *testing.T) {
	r := New(nil)
	r.Register(context.Background(), "t1", "parent", "child1", "explorer", "task 1")
	r.Register(context.Background(), "t2", "parent", "child2", "explorer", "task 2")
	if err := r.Complete(context.Background(), "t2", "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	running := r.ListRunning()
	if len(running) != 1 || running[0].ID != "t1" {
		t.Fatalf("expected only t1 running, got %+v", running)
	}
}

// TestRegisterPersistsSubagentSession covers spec §4.7: Register creates a
// subagent-typed session in state Active, and Complete transitions it to
// Completed and appends a result message.
func TestRegisterPersistsSubagentSession(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	r := New(store)
	r.Register(context.Background(), "t1", "parent-session", "child-session", "explorer", "look around")

	session, _, err := store.Load(context.Background(), "child-session")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.State != models.SessionActive || session.Kind != models.SessionKindSubagent {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.Subagent == nil || session.Subagent.AgentType != "explorer" {
		t.Fatalf("expected subagent info, got %+v", session.Subagent)
	}

	if err := r.Complete(context.Background(), "t1", "done looking"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	session, messages, err := store.Load(context.Background(), "child-session")
	if err != nil {
		t.Fatalf("Load after complete: %v", err)
	}
	if session.State != models.SessionCompleted {
		t.Fatalf("expected session completed, got %s", session.State)
	}
	if len(messages) != 1 || messages[0].Content[0].Text.Text != "done looking" {
		t.Fatalf("expected a result message appended, got %+v", messages)
	}
}
