package api

import "github.com/codeready-toolchain/bridgy/pkg/models"

// AskChatRequest is the HTTP request body for POST /api/v1/chat/ask.
type AskChatRequest struct {
	UserID         string            `json:"user_id"`
	Message        string            `json:"message"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Source         *models.SourceRef `json:"source,omitempty"`
}

// CallToolRequest is the HTTP request body for POST /api/v1/mcp/tools/call.
type CallToolRequest struct {
	UserID    string         `json:"user_id"`
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
