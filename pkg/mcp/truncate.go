package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultToolResultMaxTokens caps a single tool result before it re-enters
// the model conversation. Oversized results crowd out the context window and
// bill their full length again on every later round.
const DefaultToolResultMaxTokens = 8000

// bytesPerToken approximates English text at four bytes per token. The cap
// is a soft threshold; an exact tokenizer would change where the cut lands,
// not whether output this large belongs in the conversation.
const bytesPerToken = 4

// TruncateForModel enforces the tool result budget. Content within budget
// passes through untouched.
func TruncateForModel(content string) string {
	return truncate(content, DefaultToolResultMaxTokens*bytesPerToken,
		"Output exceeded tool result limit")
}

// truncate cuts content down to maxBytes and appends a marker naming the
// reason and the original size. The cut lands on a rune boundary and then
// backs up to the previous newline when one exists, so indented JSON, YAML,
// and log output keep whole lines. A non-positive limit disables truncation.
func truncate(content string, maxBytes int, reason string) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	kept := content[:cut]
	if nl := strings.LastIndexByte(kept, '\n'); nl > 0 {
		kept = kept[:nl]
	}

	return kept + fmt.Sprintf(
		"\n\n[TRUNCATED: %s — Original size: %s, limit: %s]",
		reason, byteSize(len(content)), byteSize(maxBytes))
}

// byteSize renders sizes in B below 1KB so small content never reads "0KB".
func byteSize(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%dKB", n/1024)
}
