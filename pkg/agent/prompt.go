package agent

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
)

// systemPreamble anchors every request's system block. Together with the tool
// declarations it forms the stable prefix the provider caches, so it must not
// vary between iterations of one request.
const systemPreamble = `You are an operations assistant that answers questions by calling the tools made available in this conversation. Tool names are qualified as "<server>__<tool>"; only the listed tools exist, never invent tool names. When a tool call fails or is not permitted, adapt your approach or state the limitation in your answer. Keep final answers concise and actionable.`

const forcedConclusionTemplate = `You have used all %d tool-call rounds available for this request. Provide your best final answer now, using only the information already gathered. Do not request any further tools.`

// buildSystemBlock composes the cacheable system context for one request:
// fixed preamble, caller profile, and per-server usage notes from the
// allowed-tools view. Deterministic for a (user, view) pair.
func buildSystemBlock(user *config.ResolvedUser, view *permissions.ToolsView) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\n")
	sb.WriteString(formatCallerProfile(user))

	if notes := formatServerNotes(view); notes != "" {
		sb.WriteString("\n\n")
		sb.WriteString(notes)
	}

	return sb.String()
}

// formatCallerProfile renders who is asking. The model sees it; keep it to
// identity and role, no policy internals.
func formatCallerProfile(user *config.ResolvedUser) string {
	name := user.DisplayName
	if name == "" {
		name = user.UserID
	}
	return fmt.Sprintf("Caller: %s (%s, role %s).", name, user.UserID, user.Role)
}

// formatServerNotes renders the usage instructions MCP servers publish.
// Servers without instructions are omitted; an all-silent view yields "".
func formatServerNotes(view *permissions.ToolsView) string {
	var sb strings.Builder
	for _, server := range view.Servers {
		instructions := strings.TrimSpace(server.Instructions)
		if instructions == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s\n%s", server.ServerID, instructions)
	}
	if sb.Len() == 0 {
		return ""
	}
	return "Notes from the connected tool servers:\n\n" + sb.String()
}

// forcedConclusionPrompt is appended as a user turn when the loop exhausts
// its round budget.
func forcedConclusionPrompt(maxRounds int) string {
	return fmt.Sprintf(forcedConclusionTemplate, maxRounds)
}

// iterationLimitNotice is the fallback answer when the ceiling is reached and
// no usable model text exists.
func iterationLimitNotice(maxRounds int) string {
	return fmt.Sprintf(
		"Iteration limit reached: the request used all %d tool-call rounds without producing a final answer. Please retry with a narrower question.",
		maxRounds)
}
