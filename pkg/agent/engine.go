package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
	"github.com/codeready-toolchain/bridgy/pkg/ratelimit"
	"github.com/codeready-toolchain/bridgy/pkg/services"
	"github.com/codeready-toolchain/bridgy/pkg/threads"
)

// Deps carries the collaborators an Engine needs. All fields except Logger
// are required.
type Deps struct {
	Snapshots SnapshotProvider
	LLM       LLMClient
	Executors ExecutorFactory
	Resolver  *permissions.Resolver
	Limiter   RateLimiter
	Threads   *threads.Store
	Recorder  Recorder
	Logger    *slog.Logger
}

// Engine runs the agentic loop for chat requests. It is stateless across
// requests: every Ask pins its own configuration snapshot, allowed-tools
// view, and executor, so concurrent requests never share mutable state.
type Engine struct {
	snapshots SnapshotProvider
	llm       LLMClient
	executors ExecutorFactory
	resolver  *permissions.Resolver
	limiter   RateLimiter
	threads   *threads.Store
	recorder  Recorder
	logger    *slog.Logger

	now func() time.Time
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "agent")
	}
	return &Engine{
		snapshots: deps.Snapshots,
		llm:       deps.LLM,
		executors: deps.Executors,
		resolver:  deps.Resolver,
		limiter:   deps.Limiter,
		threads:   deps.Threads,
		recorder:  deps.Recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Ask drives one user request to a terminal outcome. Rate-limit rejections,
// timeouts, and model failures are reported through AskResult.Status and
// Warning, not as Go errors; the error return is reserved for requests that
// never became a unit of work (invalid input).
//
// Once admission is attempted, exactly one audit record is emitted whatever
// the terminal state.
func (e *Engine) Ask(ctx context.Context, req models.AskRequest) (*models.AskResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, services.NewValidationError("user_id", "must not be empty")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, services.NewValidationError("message", "must not be empty")
	}
	if req.SourceTag == "" {
		req.SourceTag = models.SourceAPIClient
	}

	// One snapshot per request: a mid-flight config reload never retargets
	// in-flight work.
	snap := e.snapshots.Snapshot()
	user := snap.ResolveUser(req.UserID)

	run := &requestRun{
		engine:  e,
		req:     req,
		snap:    snap,
		user:    user,
		started: e.now(),
		mcps:    map[string]struct{}{},
	}

	if admission := e.limiter.Check(user.UserID, user.RateLimit); !admission.Allowed {
		return run.finishRateLimited(admission), nil
	}

	if timeout := snap.Defaults.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return run.run(ctx), nil
}

// requestRun accumulates the state of one admitted request. Exactly one
// finish* call settles it, building the result and emitting the audit record.
type requestRun struct {
	engine  *Engine
	req     models.AskRequest
	snap    *config.Config
	user    *config.ResolvedUser
	started time.Time

	// rounds counts completed tool-execution rounds. The reported iteration
	// count is rounds floored at 1: a request answered without tools still
	// took one model round-trip.
	rounds    int
	toolCalls int
	toolsUsed []string
	mcps      map[string]struct{}
	usage     models.TokenUsage
	lastText  string
}

// run executes the agentic loop under the request deadline.
//
// Each pass invokes the model once. A reply without tool calls is the final
// answer. A reply with tool calls runs one tool round (permission check,
// dispatch, result injection) and loops. When the round budget is already
// spent, the requested calls are not dispatched and the model is forced to
// conclude without tools.
func (r *requestRun) run(ctx context.Context) *models.AskResult {
	e := r.engine

	view := e.resolver.AllowedTools(ctx, r.snap, r.user.UserID)
	tools := view.ToolDefinitions()
	executor := e.executors(view.AllowedMap())
	system := buildSystemBlock(r.user, view)

	maxRounds := r.snap.Defaults.MaxIterations
	if maxRounds < 1 {
		maxRounds = 1
	}

	messages := r.priorMessages()
	messages = append(messages, llm.UserMessage(r.req.Message))

	for {
		resp, err := e.llm.Invoke(ctx, llm.Request{System: system, Messages: messages, Tools: tools})
		if err != nil {
			return r.finishFailure(ctx, err)
		}
		r.usage.Add(resp.Usage)
		if resp.Text != "" {
			r.lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			return r.finish(models.AuditStatusSuccess, "", resp.Text)
		}

		if r.rounds >= maxRounds {
			return r.forceConclusion(ctx, system, messages, maxRounds)
		}
		r.rounds++

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		results := r.runToolStep(ctx, view, executor, resp.ToolCalls)
		if ctx.Err() != nil {
			return r.finishFailure(ctx, ctx.Err())
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}
}

// priorMessages replays recent thread history when the request continues a
// conversation.
func (r *requestRun) priorMessages() []llm.Message {
	if r.req.ConversationID == "" {
		return nil
	}
	prior := r.engine.threads.Recent(r.req.ConversationID, r.snap.Defaults.ThreadDepth)
	messages := make([]llm.Message, 0, len(prior)+1)
	for _, m := range prior {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Text})
	}
	return messages
}

// runToolStep resolves permissions for every call in one model step and
// dispatches the permitted ones, concurrently when the step carries more than
// one. The returned slice keeps the 1:1 request/result pairing in request
// order. Denied calls become "not permitted" results the model can adapt to;
// they do not count as tool usage.
func (r *requestRun) runToolStep(ctx context.Context, view *permissions.ToolsView, executor ToolExecutor, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	executed := make([]bool, len(calls))

	var permitted []int
	for i, call := range calls {
		decision := r.checkCall(view, call)
		if !decision.Allowed {
			r.engine.logger.Info("Tool call denied",
				"user_id", r.user.UserID, "tool", call.Name, "reason", decision.Reason)
			results[i] = deniedResult(call, decision)
			continue
		}
		permitted = append(permitted, i)
	}

	dispatch := func(i int) {
		call := calls[i]
		res, err := executor.Execute(ctx, call)
		if err != nil {
			// Dispatch errors are observations for the model, never aborts.
			results[i] = llm.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Tool execution failed: %s", err),
				IsError: true,
			}
		} else {
			results[i] = *res
		}
		executed[i] = true
	}

	if len(permitted) > 1 {
		var wg sync.WaitGroup
		for _, i := range permitted {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				dispatch(i)
			}(i)
		}
		wg.Wait()
	} else {
		for _, i := range permitted {
			dispatch(i)
		}
	}

	// On deadline expiry the caller discards this round entirely, so the
	// usage counters must not see it either.
	if ctx.Err() != nil {
		return results
	}

	for i, call := range calls {
		if !executed[i] {
			continue
		}
		r.toolCalls++
		serverID, toolName, err := mcp.SplitToolName(mcp.NormalizeToolName(call.Name))
		if err != nil {
			continue
		}
		r.toolsUsed = append(r.toolsUsed, mcp.DisplayToolName(serverID, toolName))
		r.mcps[serverID] = struct{}{}
	}

	return results
}

// checkCall validates one model-requested call against the request's
// allowed-tools view. The view is the request-lifetime snapshot: a tool
// outside it is never dispatched, whatever the live configuration now says.
func (r *requestRun) checkCall(view *permissions.ToolsView, call llm.ToolCall) permissions.Decision {
	serverID, toolName, err := mcp.SplitToolName(mcp.NormalizeToolName(call.Name))
	if err != nil {
		return permissions.Decision{Allowed: false, Reason: permissions.ReasonUnknownTool}
	}
	if view.Contains(serverID, toolName) {
		return permissions.Decision{Allowed: true, Reason: permissions.ReasonRoleDefault}
	}

	// Denied: derive the reason from policy. A name the policy would allow
	// but no enabled server advertises is simply unknown.
	decision := permissions.Evaluate(r.snap, r.user, serverID, toolName)
	if decision.Allowed {
		return permissions.Decision{Allowed: false, Reason: permissions.ReasonUnknownTool}
	}
	return decision
}

// forceConclusion makes one final model call without tools after the round
// budget is spent. The request still answers: the forced response, else the
// most recent model text, else a static limit notice.
func (r *requestRun) forceConclusion(ctx context.Context, system string, messages []llm.Message, maxRounds int) *models.AskResult {
	messages = append(messages, llm.UserMessage(forcedConclusionPrompt(maxRounds)))

	answer := r.lastText
	resp, err := r.engine.llm.Invoke(ctx, llm.Request{System: system, Messages: messages})
	if err != nil {
		if ctx.Err() != nil {
			return r.finishFailure(ctx, err)
		}
		r.engine.logger.Warn("Forced conclusion call failed, falling back to last response text",
			"user_id", r.user.UserID, "error", err)
	} else {
		r.usage.Add(resp.Usage)
		if resp.Text != "" {
			answer = resp.Text
		}
	}
	if answer == "" {
		answer = iterationLimitNotice(maxRounds)
	}

	return r.finish(models.AuditStatusWarning, models.WarningMaxIterations, answer)
}

// finishFailure classifies a request-level failure: deadline expiry becomes a
// timeout, anything else a model error. Both are terminal with status error.
func (r *requestRun) finishFailure(ctx context.Context, err error) *models.AskResult {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		r.engine.logger.Warn("Request deadline exceeded",
			"user_id", r.user.UserID, "rounds", r.rounds)
		return r.finish(models.AuditStatusError, models.WarningTimeout,
			"The request timed out before completing. Please try again, or ask a narrower question.")
	}
	r.engine.logger.Error("LM invocation failed",
		"user_id", r.user.UserID, "rounds", r.rounds, "error", err)
	return r.finish(models.AuditStatusError, models.WarningLMError,
		"The language model request failed. Please try again shortly.")
}

// finishRateLimited terminates a rejected request before any LM or tool work.
// The answer states the ceiling and the reset time.
func (r *requestRun) finishRateLimited(admission ratelimit.Decision) *models.AskResult {
	resetIn := admission.ResetAt.Sub(r.engine.now())
	if resetIn < 0 {
		resetIn = 0
	}

	answer := fmt.Sprintf(
		"Rate limit reached: all %d requests available to role %q are in use. Try again in about %s.",
		r.user.RateLimit, r.user.Role, formatResetIn(resetIn))

	result := r.finishWithIterations(models.AuditStatusError, models.WarningRateLimited, answer, 0)
	result.RetryAfterSeconds = int64((resetIn + time.Second - 1) / time.Second)
	return result
}

// finish settles a request that ran the loop.
func (r *requestRun) finish(status models.AuditStatus, warning, answer string) *models.AskResult {
	iterations := r.rounds
	if iterations < 1 {
		iterations = 1
	}
	return r.finishWithIterations(status, warning, answer, iterations)
}

// finishWithIterations builds the terminal result, persists the exchange for
// follow-ups, and emits the request's single audit record.
func (r *requestRun) finishWithIterations(status models.AuditStatus, warning, answer string, iterations int) *models.AskResult {
	e := r.engine
	durationMs := e.now().Sub(r.started).Milliseconds()

	// Only a produced answer is a thread exchange; rejected and failed
	// requests must not leave a dangling user turn in the history.
	answered := status == models.AuditStatusSuccess || status == models.AuditStatusWarning
	if r.req.ConversationID != "" && answered && answer != "" {
		e.threads.Append(r.req.ConversationID, llm.RoleUser, r.req.Message)
		e.threads.Append(r.req.ConversationID, llm.RoleAssistant, answer)
	}

	toolsUsed := r.toolsUsed
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	mcpsAccessed := r.mcpsAccessed()
	cost := llm.CostEstimate(r.pricing(), r.usage)

	e.recorder.Record(&models.AuditRecord{
		UserID:          r.user.UserID,
		Message:         r.req.Message,
		Iterations:      iterations,
		ToolCallsCount:  r.toolCalls,
		ToolsUsed:       toolsUsed,
		MCPsAccessed:    mcpsAccessed,
		TokensInput:     r.usage.Input,
		TokensOutput:    r.usage.Output,
		TokensCached:    r.usage.Cached,
		CostEstimate:    cost,
		Status:          status,
		Warning:         warning,
		DurationMs:      durationMs,
		SourceTag:       r.req.SourceTag,
		ConversationRef: conversationRef(r.req),
	})

	e.logger.Info("Request finished",
		"user_id", r.user.UserID,
		"status", string(status),
		"warning", warning,
		"iterations", iterations,
		"tool_calls", r.toolCalls,
		"tokens_total", r.usage.Total(),
		"duration_ms", durationMs)

	return &models.AskResult{
		Answer:       answer,
		Status:       status,
		Warning:      warning,
		Iterations:   iterations,
		ToolCalls:    r.toolCalls,
		ToolsUsed:    toolsUsed,
		MCPsAccessed: mcpsAccessed,
		Usage:        r.usage,
		CostEstimate: cost,
		DurationMs:   durationMs,
	}
}

func (r *requestRun) pricing() *config.Pricing {
	if r.snap.LLM == nil {
		return nil
	}
	return r.snap.LLM.Pricing
}

func (r *requestRun) mcpsAccessed() []string {
	ids := make([]string, 0, len(r.mcps))
	for id := range r.mcps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func deniedResult(call llm.ToolCall, decision permissions.Decision) llm.ToolResult {
	return llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("Tool %s is not permitted for this user (%s).", displayName(call.Name), decision.Reason),
		IsError: true,
	}
}

// displayName renders a tool name in the "server.tool" prose form used in
// audit records and user-facing text.
func displayName(name string) string {
	serverID, toolName, err := mcp.SplitToolName(mcp.NormalizeToolName(name))
	if err != nil {
		return name
	}
	return mcp.DisplayToolName(serverID, toolName)
}

// conversationRef condenses the source metadata into the opaque reference
// stored on the audit record.
func conversationRef(req models.AskRequest) string {
	if ref := req.SourceRef; ref != nil && ref.Channel != "" {
		switch {
		case ref.ThreadID != "":
			return ref.Channel + "/" + ref.ThreadID
		case ref.MessageID != "":
			return ref.Channel + "/" + ref.MessageID
		default:
			return ref.Channel
		}
	}
	return req.ConversationID
}

func formatResetIn(d time.Duration) string {
	if d < time.Minute {
		return "a minute"
	}
	minutes := int(d.Round(time.Minute).Minutes())
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
