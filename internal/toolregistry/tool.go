// Package toolregistry implements the Tool Registry & Sandbox of spec
// §4.5: a name -> Tool registry with insertion/replace semantics, the
// execute() dispatch pipeline (lookup, permission check, security
// validation, timeout, output truncation), and the Execution Context those
// tools run under. Grounded on the teacher's tool-interface shape
// (internal/tools/exec, internal/tools/sandbox) and its SSRF-safe network
// allowlist (internal/net/ssrf).
package toolregistry

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ToolResult is the flattened result of one tool invocation. The spec's
// Output sum type (Success(str) | SuccessBlocks(list) | Error(str) |
// Empty) is flattened to Content/IsError here since dispatch always
// extracts a flat string before feeding it back to the model (§4.10.a.4);
// SuccessBlocks producers populate Blocks for callers that want the
// structured form before flattening.
type ToolResult struct {
	Content string
	Blocks  []string
	IsError bool

	// InnerUsage/InnerModel let a tool (e.g. the Task tool, wrapping a
	// subagent run) report token usage that accrues into the caller's
	// budget and metrics.
	InnerUsage *models.Usage
	InnerModel string
}

// Success builds a non-error ToolResult from a flat string.
func Success(content string) *ToolResult { return &ToolResult{Content: content} }

// SuccessBlocks builds a non-error ToolResult from structured blocks,
// flattened by newline-joining for Content.
func SuccessBlocks(blocks []string) *ToolResult {
	flat := ""
	for i, b := range blocks {
		if i > 0 {
			flat += "\n"
		}
		flat += b
	}
	return &ToolResult{Content: flat, Blocks: blocks}
}

// Error builds an error ToolResult.
func Error(message string) *ToolResult { return &ToolResult{Content: message, IsError: true} }

// Empty builds a ToolResult for a tool that succeeded with no output.
func Empty() *ToolResult { return &ToolResult{} }

// Tool is the capability every registered tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage, execCtx *ExecutionContext) (*ToolResult, error)
}
