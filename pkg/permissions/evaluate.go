package permissions

import (
	"path"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// Decision reasons, reported on the wire and in logs.
const (
	// ReasonRoleDefault means the role's default grants decided the outcome.
	ReasonRoleDefault = "role_default"
	// ReasonUserOverride means a per-user override allowed the tool.
	ReasonUserOverride = "user_override"
	// ReasonMCPDisabled means the server is disabled in configuration.
	ReasonMCPDisabled = "mcp_disabled"
	// ReasonMCPPolicyExcluded means the server's tool policy excluded the tool.
	ReasonMCPPolicyExcluded = "mcp_policy_excluded"
	// ReasonUserPolicyExcluded means the user's custom override excluded the tool.
	ReasonUserPolicyExcluded = "user_policy_excluded"
	// ReasonUnknownTool means the tool reference did not resolve to a
	// registered server.
	ReasonUnknownTool = "unknown_tool"
)

// Decision is the outcome of evaluating one tool for one user.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Evaluate decides whether a user may call toolName on serverID under the
// given config snapshot. It is a pure function of its inputs.
//
// Order: disabled server, then user override (all/custom; inherit falls
// through), then the role's server grant, then the server's tool policy.
func Evaluate(snap *config.Config, user *config.ResolvedUser, serverID, toolName string) Decision {
	serverCfg, err := snap.GetMCPServer(serverID)
	if err != nil {
		return deny(ReasonUnknownTool)
	}
	if !serverCfg.IsEnabled() {
		return deny(ReasonMCPDisabled)
	}

	if override, ok := user.Override(serverID); ok {
		switch override.Mode {
		case config.OverrideModeAll:
			return allow(ReasonUserOverride)
		case config.OverrideModeCustom:
			if matchAny(override.Tools, toolName) {
				return allow(ReasonUserOverride)
			}
			return deny(ReasonUserPolicyExcluded)
		}
		// inherit defers to the server policy below
	}

	// A role that does not grant the server denies all of its tools.
	if !user.GrantsServer(serverID) {
		return deny(ReasonRoleDefault)
	}

	switch serverCfg.PolicyMode() {
	case config.ToolPolicyAllowOnly:
		if matchAny(serverCfg.ToolPolicy.Tools, toolName) {
			return allow(ReasonRoleDefault)
		}
		return deny(ReasonMCPPolicyExcluded)
	case config.ToolPolicyAllowAllExcept:
		if matchAny(serverCfg.ToolPolicy.Tools, toolName) {
			return deny(ReasonMCPPolicyExcluded)
		}
		return allow(ReasonRoleDefault)
	default: // allow_all
		return allow(ReasonRoleDefault)
	}
}

// EvaluateServer decides server-level access: whether any tool on serverID
// could be allowed for the user, before the advertised catalog and per-tool
// policies are applied. Permission summaries report this alongside the
// per-tool view.
func EvaluateServer(snap *config.Config, user *config.ResolvedUser, serverID string) Decision {
	serverCfg, err := snap.GetMCPServer(serverID)
	if err != nil {
		return deny(ReasonUnknownTool)
	}
	if !serverCfg.IsEnabled() {
		return deny(ReasonMCPDisabled)
	}
	if override, ok := user.Override(serverID); ok && override.Mode != config.OverrideModeInherit {
		return allow(ReasonUserOverride)
	}
	if user.GrantsServer(serverID) {
		return allow(ReasonRoleDefault)
	}
	return deny(ReasonRoleDefault)
}

// matchAny reports whether any glob pattern matches name. Patterns use
// path.Match syntax; a bare "*" matches everything. Malformed patterns
// (rejected during config validation) never match.
func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
