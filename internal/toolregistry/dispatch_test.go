package toolregistry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/permission"
)

type fakeTool struct {
	name  string
	delay time.Duration
	res   *ToolResult
	err   error
}

func (f *fakeTool) Name() string             { return f.name }
func (f *fakeTool) Description() string      { return "fake" }
func (f *fakeTool) Schema() json.RawMessage  { return json.RawMessage(`{}`) }
func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage, execCtx *ExecutionContext) (*ToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.res, f.err
}

func testExecCtx(mode permission.Mode) *ExecutionContext {
	return &ExecutionContext{
		WorkspaceRoot: "/tmp",
		Permission:    permission.New(mode, []string{"*"}, nil),
	}
}

func TestDispatchUnknownToolReturnsErrorResult(t *testing.T) {
	r := New()
	res := r.Dispatch(context.Background(), "Missing", nil, "", testExecCtx(permission.ModeBypass), 0, nil)
	if !res.IsError {
		t.Fatalf("expected error result for unknown tool")
	}
}

func TestDispatchDeniedPermissionTagsResult(t *testing.T) {
	r := New()
	_ = r.RegisterDynamic(&fakeTool{name: "Bash", res: Success("ok")})
	execCtx := &ExecutionContext{
		WorkspaceRoot: "/tmp",
		Permission:    permission.New(permission.ModePlan, nil, nil),
	}
	res := r.Dispatch(context.Background(), "Bash", nil, "", execCtx, 0, nil)
	if !res.IsError {
		t.Fatalf("expected denied dispatch to be an error result")
	}
	found := false
	for _, b := range res.Blocks {
		if b == PermissionDeniedTag {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected result to carry permission_denied tag, got %+v", res)
	}
}

func TestDispatchTimeoutProducesErrorResult(t *testing.T) {
	r := New()
	_ = r.RegisterDynamic(&fakeTool{name: "Slow", delay: 200 * time.Millisecond, res: Success("too late")})
	res := r.Dispatch(context.Background(), "Slow", nil, "", testExecCtx(permission.ModeBypass), 10*time.Millisecond, nil)
	if !res.IsError {
		t.Fatalf("expected timeout to produce an error result")
	}
	if !strings.Contains(res.Content, "timed out") {
		t.Fatalf("expected timeout message, got %q", res.Content)
	}
}

func TestDispatchTruncatesLongOutput(t *testing.T) {
	r := New()
	long := strings.Repeat("x", 100)
	_ = r.RegisterDynamic(&fakeTool{name: "Echo", res: Success(long)})
	execCtx := testExecCtx(permission.ModeBypass)
	execCtx.MaxOutputBytes = 10
	res := r.Dispatch(context.Background(), "Echo", nil, "", execCtx, 0, nil)
	if !strings.HasSuffix(res.Content, truncationMarker) {
		t.Fatalf("expected truncation marker, got %q", res.Content)
	}
	if len(res.Content) != 10+len(truncationMarker) {
		t.Fatalf("unexpected truncated length: %d", len(res.Content))
	}
}

func TestDispatchSuccessReturnsToolResultUnmodified(t *testing.T) {
	r := New()
	_ = r.RegisterDynamic(&fakeTool{name: "Ok", res: Success("done")})
	res := r.Dispatch(context.Background(), "Ok", nil, "", testExecCtx(permission.ModeBypass), 0, nil)
	if res.IsError || res.Content != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
