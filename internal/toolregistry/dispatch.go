package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultToolTimeout and MaxToolTimeout bound per-tool execution per spec
// §4.5.4: a tool that does not finish within its timeout is cancelled and
// reported as a timeout error, never silently ignored.
const (
	DefaultToolTimeout = 120 * time.Second
	MaxToolTimeout     = 600 * time.Second

	// DefaultMaxOutputBytes caps a successful tool result's Content before
	// a truncation marker is appended (spec §4.5.5).
	DefaultMaxOutputBytes = 256 * 1024
)

const truncationMarker = "\n... [output truncated]"

// PermissionDeniedTag marks a ToolResult rejected by the Permission Engine
// so callers can distinguish it from an ordinary tool-reported error.
const PermissionDeniedTag = "permission_denied"

// MetricsSink receives dispatch-level accounting the caller folds into
// its AgentResult.Metrics (spec §3's Metrics type).
type MetricsSink interface {
	RecordToolCall(name string, duration time.Duration, isError bool)
	RecordPermissionDenial(name string)
}

// noopSink discards metrics when the caller supplies none.
type noopSink struct{}

func (noopSink) RecordToolCall(string, time.Duration, bool) {}
func (noopSink) RecordPermissionDenial(string)              {}

// Dispatch runs the spec §4.5 execute() pipeline for one tool invocation:
// lookup, permission check, security validation, timeout enforcement, and
// output truncation. argSignature is the opaque per-tool string the
// Permission Engine matches against (e.g. the shell command for Bash).
func (r *Registry) Dispatch(ctx context.Context, name string, input json.RawMessage, argSignature string, execCtx *ExecutionContext, timeout time.Duration, sink MetricsSink) *ToolResult {
	if sink == nil {
		sink = noopSink{}
	}

	tool, ok := r.Get(name)
	if !ok {
		return Error(fmt.Sprintf("unknown tool %q", name))
	}

	if execCtx.Permission != nil {
		decision := execCtx.Permission.Check(name, argSignature)
		if !decision.Allowed {
			sink.RecordPermissionDenial(name)
			return &ToolResult{
				Content: fmt.Sprintf("permission denied: %s", decision.Reason),
				IsError: true,
				Blocks:  []string{PermissionDeniedTag},
			}
		}
	}

	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if timeout > MaxToolTimeout {
		timeout = MaxToolTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan dispatchOutcome, 1)
	go func() {
		res, err := tool.Execute(runCtx, input, execCtx)
		resultCh <- dispatchOutcome{res: res, err: err}
	}()

	select {
	case <-runCtx.Done():
		sink.RecordToolCall(name, time.Since(start), true)
		return Error(fmt.Sprintf("tool %q timed out after %s", name, timeout))
	case out := <-resultCh:
		dur := time.Since(start)
		if out.err != nil {
			sink.RecordToolCall(name, dur, true)
			return Error(out.err.Error())
		}
		res := out.res
		if res == nil {
			res = Empty()
		}
		truncate(res, maxOutputBytes(execCtx))
		sink.RecordToolCall(name, dur, res.IsError)
		return res
	}
}

type dispatchOutcome struct {
	res *ToolResult
	err error
}

func maxOutputBytes(execCtx *ExecutionContext) int {
	if execCtx != nil && execCtx.MaxOutputBytes > 0 {
		return execCtx.MaxOutputBytes
	}
	return DefaultMaxOutputBytes
}

func truncate(res *ToolResult, max int) {
	if res.IsError || len(res.Content) <= max {
		return
	}
	res.Content = res.Content[:max] + truncationMarker
}
