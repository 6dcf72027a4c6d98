// Package version carries build identity for logs, health output, and the
// MCP client handshake.
package version

import "runtime/debug"

// AppName identifies this binary in version strings and MCP handshakes.
const AppName = "bridgy"

const fallback = "dev"

// commitOverride may be injected with -ldflags for builds without a .git
// directory, such as container image builds.
var commitOverride string

// GitCommit holds the short commit hash, or "dev" when nothing better is
// known (go test, tarball builds).
var GitCommit = resolveCommit(commitOverride)

// Full is AppName and commit joined for user-agent style strings.
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit(override string) string {
	if override != "" {
		return shortRev(override)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shortRev(s.Value)
			}
		}
	}
	return fallback
}

// shortRev trims a full revision down to the customary 8 characters.
func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
