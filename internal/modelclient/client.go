// Package modelclient defines the abstract boundary between the Streaming
// Executor and a model provider, per spec §6's ModelClient contract: send,
// send_stream, refresh_credentials, is_unauthorized. Concrete providers
// (Anthropic, OpenAI-compatible, Bedrock) implement Client; the executor
// depends only on this interface.
package modelclient

import (
	"context"

	"github.com/haasonsaas/nexus/internal/requestbuilder"
	"github.com/haasonsaas/nexus/pkg/models"
)

// StreamEventType discriminates one incremental event from send_stream.
type StreamEventType string

const (
	StreamTextDelta      StreamEventType = "text_delta"
	StreamToolUseStart   StreamEventType = "tool_use_start"
	StreamToolInputDelta StreamEventType = "tool_use_input_delta"
	StreamToolUseStop    StreamEventType = "tool_use_stop"
	StreamUsageDelta     StreamEventType = "usage_delta"
	StreamMessageStop    StreamEventType = "message_stop"
)

// StreamEvent is one item of the send_stream event sequence.
type StreamEvent struct {
	Type StreamEventType

	TextDelta string

	ToolUseID   string
	ToolName    string
	InputDelta  string // raw JSON fragment, accumulated by the caller

	Usage models.Usage

	// StopReason and FinalContent are populated on StreamMessageStop.
	StopReason   models.StopReason
	FinalContent []models.ContentBlock
}

// Response is the non-streaming send() result.
type Response struct {
	Content    []models.ContentBlock
	StopReason models.StopReason
	Usage      models.Usage
}

// Client is the only shape the Streaming Executor consumes from a provider.
type Client interface {
	// Name identifies the provider for price-table lookups and logging.
	Name() string

	// Send performs a non-streaming completion.
	Send(ctx context.Context, req *requestbuilder.Request) (*Response, error)

	// SendStream performs a streaming completion; the returned channel is
	// closed once the final StreamMessageStop event has been delivered or
	// ctx is cancelled. A send error before any event is returned directly;
	// an error mid-stream is reported as the channel's last delivered
	// error via StreamErr.
	SendStream(ctx context.Context, req *requestbuilder.Request) (<-chan StreamEvent, <-chan error, error)

	// RefreshCredentials re-authenticates once after an Unauthorized
	// response. Implementations that have nothing to refresh (a static
	// API key) return ErrNoRefresh.
	RefreshCredentials(ctx context.Context) error

	// IsUnauthorized classifies err as an authentication failure eligible
	// for exactly one RefreshCredentials retry.
	IsUnauthorized(err error) bool
}

// ErrNoRefresh is returned by a Client whose credentials cannot be
// refreshed (e.g. a fixed, non-rotating API key); the executor treats this
// the same as a failed refresh — the second Unauthorized is fatal.
var ErrNoRefresh = noRefreshError{}

type noRefreshError struct{}

func (noRefreshError) Error() string { return "modelclient: credentials are not refreshable" }
