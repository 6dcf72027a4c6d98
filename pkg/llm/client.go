package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/models"
)

const (
	// maxAttempts bounds Invoke retries: 1 initial call + 2 retries.
	maxAttempts = 3

	// retryBaseBackoff is the first retry delay; doubled per attempt.
	retryBaseBackoff = 1 * time.Second
)

// Client calls the Anthropic Messages API.
// Safe for concurrent use; the engine serializes iterations within one
// request, but distinct requests invoke concurrently.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// NewClient builds a Client from config. The API key is read from the
// environment variable named by cfg.APIKeyEnv.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("LM API key not set: environment variable %s is empty", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// SDK-level retries are disabled so the backoff policy lives in one
		// place (Invoke's loop) and attempt counts stay bounded.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		logger:    slog.Default(),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return string(c.model)
}

// Invoke sends one conversation turn to the model.
// Transient failures (429, 5xx, timeouts, connection resets) are retried with
// exponential backoff up to maxAttempts; terminal failures are returned as
// errors for the engine to classify.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * retryBaseBackoff
			c.logger.Warn("LM call failed, retrying",
				"attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		message, err := c.api.Messages.New(ctx, params)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return nil, wrapAPIError(err)
			}
			continue
		}

		return parseMessage(message), nil
	}

	return nil, wrapAPIError(lastErr)
}

// buildParams converts a Request into Anthropic API parameters.
// The system block carries an ephemeral cache_control marker on its final
// segment: the provider caches the prefix up to the marker (tool declarations
// plus system text), so iterations 2..N of the same request bill that prefix
// at the cached rate.
func (c *Client) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type:         "text",
				Text:         req.System,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

// convertMessages maps conversation turns to Anthropic message params.
// Tool results ride in user turns; tool calls in assistant turns.
func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.CallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// convertTools maps tool definitions to Anthropic tool params.
func convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid input schema for tool %s: %w", tool.Name, err)
			}
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}

		result = append(result, toolParam)
	}

	return result, nil
}

// parseMessage extracts text, tool calls, stop reason, and usage from a reply.
func parseMessage(message *anthropic.Message) *Response {
	resp := &Response{}

	var textParts []string
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			textParts = append(textParts, variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: variant.JSON.Input.Raw(),
			})
		}
	}
	resp.Text = strings.Join(textParts, "\n")

	switch message.StopReason {
	case anthropic.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}

	// Cache reads and cache creation both count as cached for accounting:
	// neither bills at the full input rate.
	resp.Usage = models.TokenUsage{
		Input:  message.Usage.InputTokens,
		Output: message.Usage.OutputTokens,
		Cached: message.Usage.CacheReadInputTokens + message.Usage.CacheCreationInputTokens,
	}

	return resp
}

// isRetryable reports whether an API error is worth another attempt.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429: // rate limited upstream
			return true
		case apiErr.StatusCode == 408:
			return true
		case apiErr.StatusCode >= 500:
			return true
		}
		return false
	}

	// Transport-level failures arrive as plain errors.
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "connection reset", "connection refused", "broken pipe", "eof"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// wrapAPIError annotates provider errors with status and request id when known.
func wrapAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic api (status %d, request %s): %w",
			apiErr.StatusCode, apiErr.RequestID, err)
	}
	return fmt.Errorf("anthropic api: %w", err)
}
