package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// Tool identity is the (server, tool) pair. The canonical wire form handed to
// the language model is "server__tool" (double underscore, since some
// providers reject dots in function names); "server.tool" is accepted
// wherever names arrive from user-facing prose. Unqualified names are always
// rejected.
var (
	// canonicalToolNameRegex validates the "server__tool" wire format.
	canonicalToolNameRegex = regexp.MustCompile(`^([\w][\w-]*?)__([\w][\w-]*)$`)
	// dottedToolNameRegex validates the "server.tool" prose format.
	dottedToolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)
)

// JoinToolName builds the canonical "server__tool" name.
func JoinToolName(serverID, toolName string) string {
	return serverID + "__" + toolName
}

// DisplayToolName builds the "server.tool" form used in prose and logs.
func DisplayToolName(serverID, toolName string) string {
	return serverID + "." + toolName
}

// NormalizeToolName converts an accepted tool name to the canonical
// "server__tool" form. Dotted names are rewritten; canonical names pass
// through. Invalid names are returned unchanged for SplitToolName to reject
// with a useful error.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") {
		return name
	}
	if strings.Count(name, ".") == 1 {
		return strings.Replace(name, ".", "__", 1)
	}
	return name
}

// SplitToolName splits a qualified tool name into (serverID, toolName).
// Accepts both "server__tool" and "server.tool"; anything else, in
// particular a bare tool name without a server qualifier, is an error.
func SplitToolName(name string) (serverID, toolName string, err error) {
	if matches := canonicalToolNameRegex.FindStringSubmatch(name); matches != nil {
		return matches[1], matches[2], nil
	}
	if matches := dottedToolNameRegex.FindStringSubmatch(name); matches != nil {
		return matches[1], matches[2], nil
	}
	return "", "", fmt.Errorf(
		"invalid tool name %q: must be qualified as 'server__tool' or 'server.tool' "+
			"(e.g., 'github__list_issues')", name)
}
