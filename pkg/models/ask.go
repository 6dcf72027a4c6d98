package models

// Source tags identify the channel a request arrived through.
const (
	SourceSlackBot  = "slack-bot"
	SourceWebUI     = "web-ui"
	SourceAPIClient = "api-client"
)

// SourceRef locates the originating message in the upstream chat system.
// All fields are optional; the bridge stores them opaquely.
type SourceRef struct {
	Channel   string `json:"channel,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// AskRequest is one user question submitted to the agentic engine.
type AskRequest struct {
	UserID         string     `json:"user_id"`
	Message        string     `json:"message"`
	ConversationID string     `json:"conversation_id,omitempty"`
	SourceTag      string     `json:"source_tag,omitempty"`
	SourceRef      *SourceRef `json:"source_ref,omitempty"`
}

// AskResult is the terminal outcome of one engine request. Exactly one audit
// record is derived from it regardless of status.
type AskResult struct {
	Answer       string      `json:"answer"`
	Status       AuditStatus `json:"status"`
	Warning      string      `json:"warning,omitempty"`
	Iterations   int         `json:"iterations"`
	ToolCalls    int         `json:"tool_calls"`
	ToolsUsed    []string    `json:"tools_used"`
	MCPsAccessed []string    `json:"mcps_accessed"`
	Usage        TokenUsage  `json:"usage"`
	CostEstimate float64     `json:"cost_estimate"`
	DurationMs   int64       `json:"duration_ms"`

	// RetryAfterSeconds is set only on rate-limited rejections; it feeds the
	// Retry-After response header.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}
