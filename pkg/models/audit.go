package models

import (
	"time"
)

// AuditStatus is the terminal status of a bridge request.
type AuditStatus string

const (
	// AuditStatusSuccess means the request completed with a normal answer.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError means the request failed (LM error, timeout, rate limit).
	AuditStatusError AuditStatus = "error"
	// AuditStatusWarning means the request produced an answer under degraded
	// conditions (e.g. the iteration ceiling forced a conclusion).
	AuditStatusWarning AuditStatus = "warning"
)

// IsValid checks if the audit status is a known value.
func (s AuditStatus) IsValid() bool {
	switch s {
	case AuditStatusSuccess, AuditStatusError, AuditStatusWarning:
		return true
	}
	return false
}

// Warning tags attached to audit records for non-success terminal states.
const (
	WarningMaxIterations = "max_iterations_reached"
	WarningRateLimited   = "rate_limited"
	WarningTimeout       = "timeout"
	WarningLMError       = "lm_error"
)

// AuditRecord is the immutable usage record written once per bridge request,
// covering every terminal state including rate-limited and failed requests.
type AuditRecord struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Message         string      `json:"message"`
	Iterations      int         `json:"iterations"`
	ToolCallsCount  int         `json:"tool_calls_count"`
	ToolsUsed       []string    `json:"tools_used"`
	MCPsAccessed    []string    `json:"mcps_accessed"`
	TokensInput     int64       `json:"tokens_input"`
	TokensOutput    int64       `json:"tokens_output"`
	TokensCached    int64       `json:"tokens_cached"`
	CostEstimate    float64     `json:"cost_estimate"`
	Status          AuditStatus `json:"status"`
	Warning         string      `json:"warning,omitempty"`
	DurationMs      int64       `json:"duration_ms"`
	SourceTag       string      `json:"source_tag"`
	ConversationRef string      `json:"conversation_ref,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// UsageSummary aggregates audit records for one user over a time window.
type UsageSummary struct {
	UserID       string    `json:"user_id"`
	Since        time.Time `json:"since"`
	Requests     int       `json:"requests"`
	ToolCalls    int       `json:"tool_calls"`
	TokensInput  int64     `json:"tokens_input"`
	TokensOutput int64     `json:"tokens_output"`
	TokensCached int64     `json:"tokens_cached"`
	TotalCost    float64   `json:"total_cost"`
}
