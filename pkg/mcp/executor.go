package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/bridgy/pkg/llm"
)

// ResultMasker scrubs secrets from tool result content before it enters the
// model conversation. Implemented by masking.Service.
type ResultMasker interface {
	MaskToolResult(content string, serverID string) string
}

// ToolExecutor dispatches tool calls against a fixed allowed-tools snapshot.
// One executor is created per request from the caller's resolved permissions;
// the underlying Client is shared and stays open across requests.
type ToolExecutor struct {
	client *Client
	masker ResultMasker

	// allowed maps serverID → tool names the request may invoke.
	// Servers absent from the map are off-limits entirely.
	allowed map[string][]string
}

// NewToolExecutor creates an executor scoped to the given allowed set.
// masker may be nil, in which case results pass through unmasked.
func NewToolExecutor(client *Client, allowed map[string][]string, masker ResultMasker) *ToolExecutor {
	return &ToolExecutor{
		client:  client,
		masker:  masker,
		allowed: allowed,
	}
}

// Execute runs a tool call via MCP.
//
// Flow:
//  1. Normalize the name (server.tool → server__tool)
//  2. Split and validate the qualified name
//  3. Check (server, tool) against the allowed snapshot
//  4. Parse the argument payload into map[string]any
//  5. Call Client.CallTool
//  6. Convert the MCP result to a ToolResult: mask secrets, then truncate
//     oversized output (masking runs on the full text, before truncation)
//
// Failures at any step come back as an error-flagged ToolResult, never as a
// Go error, so the agentic loop injects them as observations and continues.
func (e *ToolExecutor) Execute(ctx context.Context, call llm.ToolCall) (*llm.ToolResult, error) {
	name := NormalizeToolName(call.Name)

	serverID, toolName, err := e.resolveToolCall(name)
	if err != nil {
		return errorResult(call, err.Error()), nil
	}

	args, err := ParseToolArguments(call.Arguments)
	if err != nil {
		return errorResult(call, fmt.Sprintf("failed to parse tool arguments: %s", err)), nil
	}

	result, err := e.client.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return errorResult(call, fmt.Sprintf("MCP tool execution failed: %s", err)), nil
	}

	content := ExtractText(result)
	if e.masker != nil {
		content = e.masker.MaskToolResult(content, serverID)
	}
	content = TruncateForModel(content)

	return &llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
		IsError: result.IsError,
	}, nil
}

// AllowedServers returns the server IDs this executor may touch, sorted.
func (e *ToolExecutor) AllowedServers() []string {
	ids := make([]string, 0, len(e.allowed))
	for id := range e.allowed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// resolveToolCall validates a qualified tool name against the allowed snapshot.
func (e *ToolExecutor) resolveToolCall(name string) (serverID, toolName string, err error) {
	serverID, toolName, err = SplitToolName(name)
	if err != nil {
		return "", "", err
	}

	tools, ok := e.allowed[serverID]
	if !ok {
		return "", "", fmt.Errorf(
			"MCP server %q is not permitted for this request. Permitted servers: %s",
			serverID, strings.Join(e.AllowedServers(), ", "))
	}

	if !slices.Contains(tools, toolName) {
		return "", "", fmt.Errorf(
			"tool %q is not permitted on server %q", toolName, serverID)
	}

	return serverID, toolName, nil
}

func errorResult(call llm.ToolCall, msg string) *llm.ToolResult {
	return &llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: msg,
		IsError: true,
	}
}

// ExtractText extracts text from an MCP CallToolResult.
// Concatenates all TextContent items. Non-text content (images, embedded
// resources) is logged at debug level and skipped.
func ExtractText(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}
