package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction tells the caller what a failed MCP operation is worth.
type RecoveryAction int

const (
	// NoRetry: the failure is permanent for this call (bad request, auth,
	// timeout). Surface it.
	NoRetry RecoveryAction = iota
	// RetrySameSession: transient failure, the session itself is fine.
	RetrySameSession
	// RetryNewSession: the transport is gone. Rebuild the session first.
	RetryNewSession
)

func (a RecoveryAction) String() string {
	switch a {
	case RetrySameSession:
		return "retry_same_session"
	case RetryNewSession:
		return "retry_new_session"
	default:
		return "no_retry"
	}
}

// Timeouts and backoff bounds for MCP operations.
const (
	// ReinitTimeout bounds session recreation during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and ListTools.
	// Generous on purpose: some tools are legitimately slow, and the request
	// deadline above this is the hard ceiling.
	OperationTimeout = 90 * time.Second

	// RetryBackoffMin and RetryBackoffMax bound the jittered pause before
	// the single retry attempt.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond

	// MCPInitTimeout bounds per-server startup (transport + handshake).
	MCPInitTimeout = 30 * time.Second

	// MCPHealthPingTimeout bounds one health probe.
	MCPHealthPingTimeout = 5 * time.Second

	// MCPHealthInterval is how often the health monitor probes each server.
	MCPHealthInterval = 15 * time.Second
)

// transportFailureMarkers are substrings of error text that indicate the
// underlying connection is dead and a fresh session is needed.
var transportFailureMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"connection closed",
	"no such host",
}

// protocolErrorMarkers identify JSON-RPC level failures from the MCP SDK.
// Retrying these would replay the same bad request.
var protocolErrorMarkers = []string{
	"method not found",
	"invalid params",
	"invalid request",
	"parse error",
}

// ClassifyError maps an MCP operation error to a recovery action.
//
// Context cancellation and deadlines are never retried; the caller's budget
// is spent. Network timeouts are also final, since the server may simply be
// slow and a retry doubles the damage. Only connection-level failures earn a
// new session. Anything unrecognized defaults to NoRetry: retrying an
// unknown error is how duplicate tool side effects happen.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return RetryNewSession
	}

	msg := strings.ToLower(err.Error())
	if matchesAny(msg, transportFailureMarkers) {
		return RetryNewSession
	}
	if matchesAny(msg, protocolErrorMarkers) {
		return NoRetry
	}

	return NoRetry
}

func matchesAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
