package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/models"
)

// LLMScriptEntry defines a single scripted model reply.
type LLMScriptEntry struct {
	// Reply content (set at most one of Response, ToolCalls, Text)
	Response  *llm.Response  // pre-built reply, returned as-is
	ToolCalls []llm.ToolCall // shorthand: tool_use reply carrying these calls
	Text      string         // shorthand: end_turn text reply
	Error     error          // returned from Invoke instead of a reply

	// Test control
	BlockUntilCancelled bool            // block Invoke until ctx is cancelled, then return ctx.Err()
	OnBlock             chan<- struct{} // notified when Invoke enters its blocking path
}

// ScriptedLLMClient implements agent.LLMClient with a sequential script:
// each Invoke consumes the next entry and captures its request for later
// inspection. The engine invokes the model strictly in request order, so no
// routing is needed.
type ScriptedLLMClient struct {
	mu       sync.Mutex
	script   []LLMScriptEntry
	index    int
	captured []llm.Request
}

// NewScriptedLLMClient creates an empty scripted client.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{}
}

// Add appends one scripted entry.
func (c *ScriptedLLMClient) Add(entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, entry)
}

// Invoke implements agent.LLMClient.
func (c *ScriptedLLMClient) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	if c.index >= len(c.script) {
		call, scripted := len(c.captured), len(c.script)
		c.mu.Unlock()
		return nil, fmt.Errorf("ScriptedLLMClient: no entry for call %d (script has %d)", call, scripted)
	}
	entry := c.script[c.index]
	c.index++
	c.mu.Unlock()

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if entry.Error != nil {
		return nil, entry.Error
	}
	if entry.Response != nil {
		resp := *entry.Response
		return &resp, nil
	}
	if len(entry.ToolCalls) > 0 {
		return &llm.Response{
			Text:       entry.Text,
			ToolCalls:  entry.ToolCalls,
			StopReason: llm.StopToolUse,
			Usage:      models.TokenUsage{Input: 10, Output: 5},
		}, nil
	}
	return &llm.Response{
		Text:       entry.Text,
		StopReason: llm.StopEndTurn,
		Usage:      models.TokenUsage{Input: 10, Output: 5},
	}, nil
}

// CallCount returns the total number of Invoke calls made.
func (c *ScriptedLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// CapturedRequests returns every request Invoke received, in call order.
func (c *ScriptedLLMClient) CapturedRequests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.captured))
	copy(out, c.captured)
	return out
}
