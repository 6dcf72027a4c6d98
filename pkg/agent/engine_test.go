package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
	"github.com/codeready-toolchain/bridgy/pkg/ratelimit"
	"github.com/codeready-toolchain/bridgy/pkg/services"
	"github.com/codeready-toolchain/bridgy/pkg/threads"
)

// scriptedLLM replays canned responses in order and captures every request it
// saw. When the script runs out, repeat (if set) serves all further calls.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []llmStep
	repeat   *llm.Response
	delay    time.Duration
	requests []llm.Request
}

type llmStep struct {
	resp *llm.Response
	err  error
}

func step(resp *llm.Response) llmStep { return llmStep{resp: resp} }
func failStep(err error) llmStep      { return llmStep{err: err} }

func (s *scriptedLLM) script(steps ...llmStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

func (s *scriptedLLM) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if len(s.steps) > 0 {
		next := s.steps[0]
		s.steps = s.steps[1:]
		return next.resp, next.err
	}
	if s.repeat != nil {
		return s.repeat, nil
	}
	return nil, fmt.Errorf("scripted llm exhausted after %d calls", len(s.requests))
}

func (s *scriptedLLM) seen() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// fakeExecutor serves canned tool results keyed by canonical tool name and
// tracks dispatch overlap for the parallel-step assertions.
type fakeExecutor struct {
	mu          sync.Mutex
	results     map[string]string
	errResults  map[string]string
	failures    map[string]error
	delay       time.Duration
	allowed     map[string][]string
	calls       []llm.ToolCall
	inFlight    int
	maxInFlight int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		results:    map[string]string{},
		errResults: map[string]string{},
		failures:   map[string]error{},
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, call llm.ToolCall) (*llm.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err, ok := f.failures[call.Name]; ok {
		return nil, err
	}
	if content, ok := f.errResults[call.Name]; ok {
		return &llm.ToolResult{CallID: call.ID, Name: call.Name, Content: content, IsError: true}, nil
	}
	content, ok := f.results[call.Name]
	if !ok {
		content = "ok"
	}
	return &llm.ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

func (f *fakeExecutor) setAllowed(allowed map[string][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowed = allowed
}

func (f *fakeExecutor) lastAllowed() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowed
}

func (f *fakeExecutor) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Name
	}
	return names
}

// recordSink captures audit records synchronously.
type recordSink struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (s *recordSink) Record(record *models.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordSink) all() []*models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditRecord(nil), s.records...)
}

type staticSnapshots struct{ cfg *config.Config }

func (s staticSnapshots) Snapshot() *config.Config { return s.cfg }

type scriptedLimiter struct{ decision ratelimit.Decision }

func (l scriptedLimiter) Check(string, int) ratelimit.Decision { return l.decision }

// fakeCatalog backs the permission resolver with a fixed tool inventory.
type fakeCatalog struct {
	tools map[string][]*mcpsdk.Tool
}

func (f *fakeCatalog) ListTools(_ context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	return f.tools[serverID], nil
}

func testTool(name, description string) *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{tools: map[string][]*mcpsdk.Tool{
		"database_mcp": {
			testTool("list_available_databases", "List reachable databases"),
			testTool("get_database_health", "Health summary for one database"),
			testTool("compare_oracle_query_plans", "Compare query plans between databases"),
		},
		"oracle_mcp": {
			testTool("get_query_plan", "Fetch the execution plan for a query"),
		},
	}}
}

func testSnapshot() *config.Config {
	servers := map[string]*config.MCPServerConfig{
		"database_mcp": {
			Transport:    config.TransportConfig{Type: config.TransportTypeStdio, Command: "db-mcp"},
			Instructions: "Prefer read-only diagnostics before any write operation.",
			ToolPolicy:   &config.ToolPolicy{Mode: config.ToolPolicyAllowAll},
		},
		"oracle_mcp": {
			Transport:  config.TransportConfig{Type: config.TransportTypeStdio, Command: "oracle-mcp"},
			ToolPolicy: &config.ToolPolicy{Mode: config.ToolPolicyAllowOnly, Tools: []string{"get_*", "list_*"}},
		},
	}

	roles := map[string]*config.RoleConfig{
		"dba":          {RateLimit: config.IntPtr(100), MCPServers: []string{"*"}},
		"default_user": {RateLimit: config.IntPtr(20), MCPServers: []string{"database_mcp"}},
	}

	users := map[string]*config.UserConfig{
		"alice@x": {Role: "dba", DisplayName: "Alice"},
		"contractor@ext": {
			Role: "default_user",
			MCPOverrides: map[string]config.OverrideConfig{
				"database_mcp": {Mode: config.OverrideModeCustom, Tools: []string{"list_available_databases", "get_database_health"}},
			},
		},
	}

	return &config.Config{
		Defaults: &config.Defaults{
			MaxIterations:      10,
			ThreadDepth:        3,
			PermissionCacheTTL: 5 * time.Minute,
			ThreadTTL:          24 * time.Hour,
			RateWindow:         time.Hour,
		},
		LLM: &config.LLMConfig{
			Model:   "claude-sonnet-4-5",
			Pricing: &config.Pricing{InputPerMTok: 0.80, OutputPerMTok: 4.00, CachedPerMTok: 0.08},
		},
		MCPServerRegistry: config.NewMCPServerRegistry(servers),
		UserRegistry:      config.NewUserRegistry(roles, users, "default_user"),
	}
}

type fixture struct {
	engine   *Engine
	llm      *scriptedLLM
	executor *fakeExecutor
	sink     *recordSink
	threads  *threads.Store
	snap     *config.Config
	limiter  RateLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		llm:      &scriptedLLM{},
		executor: newFakeExecutor(),
		sink:     &recordSink{},
		threads:  threads.NewStore(3, 24*time.Hour),
		snap:     testSnapshot(),
		limiter:  ratelimit.NewLimiter(time.Hour),
	}
	f.buildEngine()
	return f
}

// buildEngine rebuilds the engine after a test mutated fixture collaborators.
func (f *fixture) buildEngine() {
	f.engine = NewEngine(Deps{
		Snapshots: staticSnapshots{f.snap},
		LLM:       f.llm,
		Executors: func(allowed map[string][]string) ToolExecutor {
			f.executor.setAllowed(allowed)
			return f.executor
		},
		Resolver: permissions.NewResolver(testCatalog(), 5*time.Minute),
		Limiter:  f.limiter,
		Threads:  f.threads,
		Recorder: f.sink,
	})
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Text:       text,
		StopReason: llm.StopEndTurn,
		Usage:      models.TokenUsage{Input: 200, Output: 40},
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		ToolCalls:  calls,
		StopReason: llm.StopToolUse,
		Usage:      models.TokenUsage{Input: 250, Output: 60, Cached: 180},
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func TestAskSimpleAnswer(t *testing.T) {
	f := newFixture(t)
	f.llm.script(step(textResponse("X is the unknown in your equation.")))

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "What is X?"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0, res.ToolCalls)
	assert.Empty(t, res.ToolsUsed)
	assert.NotEmpty(t, res.Answer)
	assert.Empty(t, res.Warning)

	requests := f.llm.seen()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].System, "alice@x")
	assert.NotEmpty(t, requests[0].Tools, "allowed tools should be offered to the model")

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditStatusSuccess, records[0].Status)
	assert.Equal(t, "alice@x", records[0].UserID)
	assert.Equal(t, 1, records[0].Iterations)
	assert.Equal(t, int64(200), records[0].TokensInput)
	assert.Equal(t, int64(40), records[0].TokensOutput)
	assert.Equal(t, models.SourceAPIClient, records[0].SourceTag)
}

func TestAskSingleToolCall(t *testing.T) {
	f := newFixture(t)
	f.executor.results["database_mcp__get_database_health"] = "status: healthy, connections: 42"
	f.llm.script(
		step(toolResponse(toolCall("tc_1", "database_mcp__get_database_health", `{"database":"db1"}`))),
		step(textResponse("The database is healthy with 42 open connections.")),
	)

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Check DB health"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, []string{"database_mcp.get_database_health"}, res.ToolsUsed)
	assert.Equal(t, []string{"database_mcp"}, res.MCPsAccessed)

	// The follow-up model call carries the result paired to the originating call.
	requests := f.llm.seen()
	require.Len(t, requests, 2)
	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "tc_1", last.ToolResults[0].CallID)
	assert.Equal(t, "status: healthy, connections: 42", last.ToolResults[0].Content)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"database_mcp.get_database_health"}, records[0].ToolsUsed)
	assert.Equal(t, int64(450), records[0].TokensInput)
	assert.Equal(t, int64(100), records[0].TokensOutput)
	assert.Equal(t, int64(180), records[0].TokensCached)
	assert.InDelta(t, 0.0007744, records[0].CostEstimate, 1e-9)
}

func TestAskMultiStepParallelDispatch(t *testing.T) {
	f := newFixture(t)
	f.executor.delay = 50 * time.Millisecond
	f.executor.results["database_mcp__list_available_databases"] = `["db1","db2"]`
	f.executor.results["database_mcp__get_database_health"] = "healthy"
	f.llm.script(
		step(toolResponse(toolCall("tc_1", "database_mcp__list_available_databases", "{}"))),
		step(toolResponse(
			toolCall("tc_2", "database_mcp__get_database_health", `{"database":"db1"}`),
			toolCall("tc_3", "database_mcp__get_database_health", `{"database":"db2"}`),
		)),
		step(textResponse("Both db1 and db2 are healthy.")),
	)

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "List all DBs and check each"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Contains(t, res.Answer, "db1")
	assert.Contains(t, res.Answer, "db2")
	assert.Equal(t, []string{
		"database_mcp.list_available_databases",
		"database_mcp.get_database_health",
		"database_mcp.get_database_health",
	}, res.ToolsUsed)

	assert.Equal(t, 2, f.executor.maxInFlight, "the two health checks should overlap")

	// Results come back in request order even when dispatch is concurrent.
	requests := f.llm.seen()
	require.Len(t, requests, 3)
	last := requests[2].Messages[len(requests[2].Messages)-1]
	require.Len(t, last.ToolResults, 2)
	assert.Equal(t, "tc_2", last.ToolResults[0].CallID)
	assert.Equal(t, "tc_3", last.ToolResults[1].CallID)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Iterations)
	assert.Equal(t, 3, records[0].ToolCallsCount)
}

func TestAskDeniedToolInjectedAsResult(t *testing.T) {
	f := newFixture(t)
	f.llm.script(
		step(toolResponse(toolCall("tc_1", "database_mcp__compare_oracle_query_plans", "{}"))),
		step(textResponse("I do not have access to query plan comparison, but here is what I can tell you.")),
	)

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "contractor@ext", Message: "Compare the query plans"})
	require.NoError(t, err)

	// The request survives: the denial is an observation, not a failure.
	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Equal(t, 0, res.ToolCalls)
	assert.Empty(t, res.ToolsUsed, "blocked tools must not appear as used")
	assert.Empty(t, f.executor.callNames(), "denied calls never reach the executor")

	requests := f.llm.seen()
	require.Len(t, requests, 2)
	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "not permitted")
	assert.Contains(t, last.ToolResults[0].Content, permissions.ReasonUserPolicyExcluded)

	// The contractor's executor scope was narrowed by the override.
	allowed := f.executor.lastAllowed()
	assert.Equal(t, map[string][]string{
		"database_mcp": {"list_available_databases", "get_database_health"},
	}, allowed)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditStatusSuccess, records[0].Status)
	assert.Empty(t, records[0].ToolsUsed)
}

func TestAskRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter = scriptedLimiter{ratelimit.Decision{
		Allowed: false,
		ResetAt: time.Now().Add(10 * time.Minute),
	}}
	f.buildEngine()

	res, err := f.engine.Ask(context.Background(), models.AskRequest{
		UserID:         "contractor@ext",
		Message:        "One more question",
		ConversationID: "conv-limited",
		SourceTag:      models.SourceSlackBot,
	})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusError, res.Status)
	assert.Equal(t, models.WarningRateLimited, res.Warning)
	assert.Equal(t, 0, res.Iterations)
	assert.Contains(t, res.Answer, "20")
	assert.Contains(t, res.Answer, "10 minutes")
	assert.InDelta(t, 600, res.RetryAfterSeconds, 5)

	assert.Empty(t, f.llm.seen(), "a rejected request must not reach the model")
	assert.Zero(t, f.threads.Len("conv-limited"), "a rejected request is not a thread exchange")

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditStatusError, records[0].Status)
	assert.Equal(t, models.WarningRateLimited, records[0].Warning)
	assert.Zero(t, records[0].TokensInput)
	assert.Zero(t, records[0].CostEstimate)
	assert.Equal(t, models.SourceSlackBot, records[0].SourceTag)
}

func TestAskIterationCeiling(t *testing.T) {
	f := newFixture(t)
	f.llm.repeat = toolResponse(toolCall("tc", "database_mcp__get_database_health", "{}"))

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Loop forever"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusWarning, res.Status)
	assert.Equal(t, models.WarningMaxIterations, res.Warning)
	assert.Equal(t, 10, res.Iterations)
	assert.Equal(t, 10, res.ToolCalls, "the over-budget round must not execute")
	assert.NotEmpty(t, res.Answer)

	// 10 tool rounds + the response that tripped the ceiling + the forced
	// conclusion, which withdraws tools.
	requests := f.llm.seen()
	require.Len(t, requests, 12)
	assert.Nil(t, requests[11].Tools)
	for _, req := range requests {
		assert.Equal(t, requests[0].System, req.System, "system block must stay byte-stable for prompt caching")
	}

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditStatusWarning, records[0].Status)
	assert.Equal(t, 10, records[0].Iterations)
	assert.Equal(t, int64(12*250), records[0].TokensInput)
}

func TestAskExactBudgetStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.snap.Defaults.MaxIterations = 2
	for i := 1; i <= 2; i++ {
		f.llm.script(step(toolResponse(toolCall(fmt.Sprintf("tc_%d", i), "database_mcp__get_database_health", "{}"))))
	}
	f.llm.script(step(textResponse("All checks done.")))

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Check twice"})
	require.NoError(t, err)

	// Exactly the budget of tool rounds followed by a final answer is success.
	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Empty(t, res.Warning)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, res.ToolCalls)
}

func TestAskToolErrorContinuesLoop(t *testing.T) {
	f := newFixture(t)
	f.executor.errResults["database_mcp__get_database_health"] = "connection refused"
	f.llm.script(
		step(toolResponse(toolCall("tc_1", "database_mcp__get_database_health", "{}"))),
		step(textResponse("The health check failed: the database refused the connection.")),
	)

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Check DB health"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Equal(t, 1, res.ToolCalls, "a failed tool call still ran")
	assert.Equal(t, []string{"database_mcp.get_database_health"}, res.ToolsUsed)

	requests := f.llm.seen()
	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Equal(t, "connection refused", last.ToolResults[0].Content)
}

func TestAskDispatchFailureContinuesLoop(t *testing.T) {
	f := newFixture(t)
	f.executor.failures["database_mcp__get_database_health"] = errors.New("transport closed")
	f.llm.script(
		step(toolResponse(toolCall("tc_1", "database_mcp__get_database_health", "{}"))),
		step(textResponse("The tool is currently unreachable.")),
	)

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Check DB health"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusSuccess, res.Status)

	requests := f.llm.seen()
	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "transport closed")
}

func TestAskUnknownToolDenied(t *testing.T) {
	f := newFixture(t)
	f.llm.script(
		step(toolResponse(
			toolCall("tc_1", "nonexistent_mcp__foo", "{}"),
			toolCall("tc_2", "get_database_health", "{}"), // unqualified
		)),
		step(textResponse("Neither of those tools exists.")),
	)

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Use strange tools"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusSuccess, res.Status)
	assert.Equal(t, 0, res.ToolCalls)
	assert.Empty(t, f.executor.callNames())

	requests := f.llm.seen()
	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 2)
	for _, result := range last.ToolResults {
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content, permissions.ReasonUnknownTool)
	}
}

func TestAskLMErrorTerminates(t *testing.T) {
	f := newFixture(t)
	f.llm.script(failStep(errors.New("upstream 500")))

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "Anything"})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusError, res.Status)
	assert.Equal(t, models.WarningLMError, res.Warning)
	assert.Equal(t, 1, res.Iterations)
	assert.NotEmpty(t, res.Answer)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.WarningLMError, records[0].Warning)
}

func TestAskTimeout(t *testing.T) {
	f := newFixture(t)
	f.snap.Defaults.RequestTimeout = 40 * time.Millisecond
	f.llm.delay = 2 * time.Second

	res, err := f.engine.Ask(context.Background(), models.AskRequest{
		UserID:         "alice@x",
		Message:        "Slow question",
		ConversationID: "conv-timeout",
	})
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusError, res.Status)
	assert.Equal(t, models.WarningTimeout, res.Warning)
	assert.Contains(t, res.Answer, "timed out")
	assert.Zero(t, f.threads.Len("conv-timeout"))

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.WarningTimeout, records[0].Warning)
}

func TestAskThreadRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.llm.script(
		step(textResponse("Answer one.")),
		step(textResponse("Answer two.")),
	)

	_, err := f.engine.Ask(context.Background(), models.AskRequest{
		UserID: "alice@x", Message: "Question one", ConversationID: "conv1",
	})
	require.NoError(t, err)

	_, err = f.engine.Ask(context.Background(), models.AskRequest{
		UserID: "alice@x", Message: "Question two", ConversationID: "conv1",
	})
	require.NoError(t, err)

	// The follow-up call replays the prior exchange before the new question.
	requests := f.llm.seen()
	require.Len(t, requests, 2)
	followUp := requests[1].Messages
	require.Len(t, followUp, 3)
	assert.Equal(t, "Question one", followUp[0].Content)
	assert.Equal(t, llm.RoleAssistant, followUp[1].Role)
	assert.Equal(t, "Answer one.", followUp[1].Content)
	assert.Equal(t, "Question two", followUp[2].Content)

	// Four messages pushed into a depth-3 thread: the oldest is gone.
	history := f.threads.Recent("conv1", 0)
	require.Len(t, history, 3)
	assert.Equal(t, "Answer one.", history[0].Text)
	assert.Equal(t, "Question two", history[1].Text)
	assert.Equal(t, "Answer two.", history[2].Text)
}

func TestAskRealLimiterCeiling(t *testing.T) {
	f := newFixture(t)
	f.llm.repeat = textResponse("ok")

	for i := 0; i < 20; i++ {
		res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "contractor@ext", Message: "hi"})
		require.NoError(t, err)
		require.Equal(t, models.AuditStatusSuccess, res.Status, "request %d should be admitted", i+1)
	}

	res, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "contractor@ext", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.AuditStatusError, res.Status)
	assert.Equal(t, models.WarningRateLimited, res.Warning)

	assert.Len(t, f.llm.seen(), 20, "the rejected request consumed no model call")
	assert.Len(t, f.sink.all(), 21, "every terminal state writes exactly one record")
}

func TestAskValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Ask(context.Background(), models.AskRequest{UserID: "", Message: "hi"})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	_, err = f.engine.Ask(context.Background(), models.AskRequest{UserID: "alice@x", Message: "   "})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	assert.Empty(t, f.sink.all(), "invalid input never becomes a unit of work")
}

func TestAskConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	f.llm.repeat = textResponse("ok")

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Ask(context.Background(), models.AskRequest{
				UserID:  "alice@x",
				Message: fmt.Sprintf("question %d", i),
			})
			assert.NoError(t, err)
			assert.Equal(t, models.AuditStatusSuccess, res.Status)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.sink.all(), workers)
}

func TestAskSourceMetadataLandsInAudit(t *testing.T) {
	f := newFixture(t)
	f.llm.script(step(textResponse("done")))

	_, err := f.engine.Ask(context.Background(), models.AskRequest{
		UserID:    "alice@x",
		Message:   "hi",
		SourceTag: models.SourceSlackBot,
		SourceRef: &models.SourceRef{Channel: "C123", ThreadID: "169.42"},
	})
	require.NoError(t, err)

	records := f.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.SourceSlackBot, records[0].SourceTag)
	assert.Equal(t, "C123/169.42", records[0].ConversationRef)
}
