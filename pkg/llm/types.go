// Package llm adapts the agentic loop's conversation model to the Anthropic
// Messages API, including tool declarations, prompt caching, and token
// accounting.
package llm

import (
	"encoding/json"

	"github.com/codeready-toolchain/bridgy/pkg/models"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to the model.
// Assistant turns may carry ToolCalls; user turns may carry ToolResults
// (results are delivered back to the model inside a user turn, paired to
// the originating calls by CallID).
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON Schema for the arguments object
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolResult is the outcome of one tool invocation, fed back to the model.
// IsError marks tool-level failures; they are observations, not aborts.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// StopReason mirrors the provider's reason for ending a turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Request is one model invocation within a request's iteration loop.
type Request struct {
	// System is the cacheable system block (tool inventory + caller profile).
	// Built once per request; identical across iterations so the provider's
	// prompt cache can serve it at the cached rate.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools offered for this call. nil withdraws tools entirely, which is
	// how the forced conclusion after the iteration ceiling is expressed.
	Tools []ToolDefinition
}

// Response is the parsed provider reply for a single invocation.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      models.TokenUsage
}

// UserMessage builds a plain user text turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage builds a plain assistant text turn.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}
