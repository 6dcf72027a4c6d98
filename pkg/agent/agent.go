// Package agent drives the per-request agentic loop: admit the request,
// resolve the caller's tool permissions, iterate the language model over tool
// calls, and settle the outcome into a thread exchange plus exactly one audit
// record.
package agent

import (
	"context"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/ratelimit"
)

// LLMClient is the model surface the engine calls. *llm.Client satisfies it.
type LLMClient interface {
	// Invoke sends one conversation turn and returns the parsed reply.
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ToolExecutor dispatches a single tool call within one request.
// *mcp.ToolExecutor satisfies it.
type ToolExecutor interface {
	// Execute runs a tool call. Tool-level failures come back as an
	// error-flagged result, not a Go error; a non-nil error means the call
	// could not be dispatched at all.
	Execute(ctx context.Context, call llm.ToolCall) (*llm.ToolResult, error)
}

// ExecutorFactory builds a request-scoped ToolExecutor bound to the allowed
// tool set resolved for that request. The engine never dispatches outside it.
type ExecutorFactory func(allowed map[string][]string) ToolExecutor

// RateLimiter admits or rejects a request against a per-user ceiling.
// *ratelimit.Limiter satisfies it.
type RateLimiter interface {
	Check(userID string, limit int) ratelimit.Decision
}

// Recorder accepts a request's terminal audit record without blocking the
// response path. *audit.Recorder satisfies it.
type Recorder interface {
	Record(record *models.AuditRecord)
}

// SnapshotProvider hands out the configuration snapshot a request pins at
// entry and holds for its lifetime. *config.Provider satisfies it.
type SnapshotProvider interface {
	Snapshot() *config.Config
}
