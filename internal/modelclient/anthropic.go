package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/nexus/internal/backoff"
	"github.com/haasonsaas/nexus/internal/ratelimit"
	"github.com/haasonsaas/nexus/internal/requestbuilder"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/pkg/models"
)

// AnthropicConfig configures an AnthropicClient. Grounded on the teacher's
// providers.AnthropicConfig shape.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicClient implements Client against the Anthropic Messages API.
// Grounded on the teacher's internal/agent/providers.AnthropicProvider:
// same SDK, same content-block/cache_control conversion, same
// message_start/content_block_*/message_delta/message_stop event handling.
type AnthropicClient struct {
	client       anthropic.Client
	apiKey       string
	defaultModel string
	limiter      *ratelimit.Bucket
	retryPolicy  backoff.BackoffPolicy
}

// NewAnthropicClient constructs an AnthropicClient from cfg.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("modelclient: anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		apiKey:       cfg.APIKey,
		defaultModel: model,
		limiter:      ratelimit.NewBucket(ratelimit.DefaultConfig()),
		retryPolicy:  backoff.DefaultPolicy(),
	}, nil
}

// throttle blocks until the client's outbound rate limit admits one more
// request, or ctx is cancelled first.
func (c *AnthropicClient) throttle(ctx context.Context) error {
	for !c.limiter.Allow() {
		if err := backoff.SleepWithContext(ctx, c.limiter.WaitTime()); err != nil {
			return err
		}
	}
	return nil
}

// isRetryableStatus reports whether an Anthropic API error is worth a
// backoff retry: rate limiting and transient server-side failures, not
// request-shape or auth errors.
func isRetryableStatus(err error) bool {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// RefreshCredentials has nothing to refresh for a static API key: the
// Streaming Executor will treat a second Unauthorized after this call as
// fatal, matching spec §4.10.b's "retry once" contract.
func (c *AnthropicClient) RefreshCredentials(ctx context.Context) error {
	return ErrNoRefresh
}

func (c *AnthropicClient) IsUnauthorized(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

func (c *AnthropicClient) Send(ctx context.Context, req *requestbuilder.Request) (*Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, sendErr := c.sendWithRetry(ctx, params)
	if sendErr != nil {
		return nil, fmt.Errorf("anthropic: %w", sendErr)
	}

	var content []models.ContentBlock
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content = append(content, models.NewTextBlock(block.Text))
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			content = append(content, models.NewToolUseBlock(block.ID, block.Name, input))
		}
	}

	return &Response{
		Content:    content,
		StopReason: mapStopReason(string(msg.StopReason)),
		Usage: models.Usage{
			InputTokens:     int(msg.Usage.InputTokens),
			OutputTokens:    int(msg.Usage.OutputTokens),
			CacheReadTokens: int(msg.Usage.CacheReadInputTokens),
		},
	}, nil
}

// sendWithRetry issues one Messages.New call, retrying on rate-limit and
// transient server errors per c.retryPolicy, and always waiting on
// c.limiter first so repeated calls (the compaction summarizer included)
// stay under the client's outbound request budget.
func (c *AnthropicClient) sendWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}
		msg, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}
		if attempt >= maxAttempts || !isRetryableStatus(err) {
			return nil, err
		}
		if sleepErr := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(c.retryPolicy, attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func (c *AnthropicClient) SendStream(ctx context.Context, req *requestbuilder.Request) (<-chan StreamEvent, <-chan error, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, nil, err
	}
	if err := c.throttle(ctx); err != nil {
		return nil, nil, err
	}

	events := make(chan StreamEvent)
	errs := make(chan error, 1)

	stream := c.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(events)
		defer close(errs)

		var toolID, toolName string
		var toolInput strings.Builder
		var finalContent []models.ContentBlock
		var textBuilder strings.Builder
		var usage models.Usage

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				usage.InputTokens = int(ms.Message.Usage.InputTokens)

			case "content_block_start":
				cbs := event.AsContentBlockStart()
				if cbs.ContentBlock.Type == "tool_use" {
					tu := cbs.ContentBlock.AsToolUse()
					toolID, toolName = tu.ID, tu.Name
					toolInput.Reset()
					events <- StreamEvent{Type: StreamToolUseStart, ToolUseID: toolID, ToolName: toolName}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						textBuilder.WriteString(delta.Text)
						events <- StreamEvent{Type: StreamTextDelta, TextDelta: delta.Text}
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						toolInput.WriteString(delta.PartialJSON)
						events <- StreamEvent{Type: StreamToolInputDelta, ToolUseID: toolID, InputDelta: delta.PartialJSON}
					}
				}

			case "content_block_stop":
				if toolID != "" {
					input := json.RawMessage(toolInput.String())
					finalContent = append(finalContent, models.NewToolUseBlock(toolID, toolName, input))
					events <- StreamEvent{Type: StreamToolUseStop, ToolUseID: toolID}
					toolID, toolName = "", ""
				} else if textBuilder.Len() > 0 {
					finalContent = append(finalContent, models.NewTextBlock(textBuilder.String()))
					textBuilder.Reset()
				}

			case "message_delta":
				md := event.AsMessageDelta()
				usage.OutputTokens = int(md.Usage.OutputTokens)

			case "message_stop":
				events <- StreamEvent{
					Type:         StreamMessageStop,
					Usage:        usage,
					StopReason:   models.StopEndTurn,
					FinalContent: finalContent,
				}
				return

			case "error":
				errs <- fmt.Errorf("anthropic: stream error")
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("anthropic: %w", err)
		}
	}()

	return events, errs, nil
}

func (c *AnthropicClient) buildParams(req *requestbuilder.Request) (anthropic.MessageNewParams, error) {
	messages, err := c.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}

	if len(req.System) > 0 {
		params.System = c.convertSystem(req.System)
	}

	if len(req.Tools) > 0 {
		tools, err := c.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	return params, nil
}

// convertSystem maps the Request Builder's ordered cacheable SystemBlock
// list (spec §4.9, long-TTL before short-TTL, a strict ordering contract)
// onto Anthropic's cache_control markers.
func (c *AnthropicClient) convertSystem(blocks []requestbuilder.SystemBlock) []anthropic.TextBlockParam {
	out := make([]anthropic.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		block := anthropic.TextBlockParam{Type: "text", Text: b.Content}
		switch b.TTL {
		case requestbuilder.CacheTTLLong:
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		case requestbuilder.CacheTTLShort:
			block.CacheControl = anthropic.CacheControlEphemeralParam{TTL: anthropic.CacheControlEphemeralTTL5m}
		}
		out = append(out, block)
	}
	return out
}

func (c *AnthropicClient) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.ContentText:
				if block.Text != nil {
					content = append(content, anthropic.NewTextBlock(block.Text.Text))
				}
			case models.ContentToolUse:
				if block.ToolUse != nil {
					var input map[string]any
					if len(block.ToolUse.Input) > 0 {
						if err := json.Unmarshal(block.ToolUse.Input, &input); err != nil {
							return nil, fmt.Errorf("invalid tool_use input for %s: %w", block.ToolUse.ID, err)
						}
					}
					content = append(content, anthropic.NewToolUseBlock(block.ToolUse.ID, input, block.ToolUse.Name))
				}
			case models.ContentToolResult:
				if block.ToolResult != nil {
					content = append(content, anthropic.NewToolResultBlock(block.ToolResult.ToolUseID, block.ToolResult.Content, block.ToolResult.IsError))
				}
			}
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (c *AnthropicClient) convertTools(tools []toolregistry.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("tool %q: invalid schema: %w", t.Name(), err)
		}
		props, _ := schema["properties"].(map[string]any)
		var required []string
		if r, ok := schema["required"].([]any); ok {
			for _, v := range r {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: props,
			Required:   required,
		}, t.Name()))
	}
	return out, nil
}

func mapStopReason(s string) models.StopReason {
	switch s {
	case "end_turn":
		return models.StopEndTurn
	case "max_tokens":
		return models.StopMaxTokens
	case "stop_sequence":
		return models.StopStopSequence
	case "tool_use":
		return models.StopToolUse
	default:
		return models.StopEndTurn
	}
}
