// Package mcp provides MCP (Model Context Protocol) client infrastructure
// for connecting to and executing tools on MCP servers.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/version"
)

// cachedCatalog is one server's tool list plus the time it was fetched.
type cachedCatalog struct {
	tools     []*mcpsdk.Tool
	fetchedAt time.Time
}

// fresh reports whether the entry is still inside the TTL. A non-positive
// TTL means caching is off and nothing is ever fresh.
func (e cachedCatalog) fresh(ttl time.Duration) bool {
	return time.Since(e.fetchedAt) < ttl
}

// Client multiplexes MCP SDK sessions across the configured servers. One
// Client is long-lived and shared by every request; sessions come up lazily
// on first use and are rebuilt after transport failures. All methods are
// safe for concurrent use.
type Client struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	clients       map[string]*mcpsdk.Client // owning client per session
	failedServers map[string]string         // serverID → message from the last failed init

	// Tool catalog cache. Entries are fresh for cacheTTL after fetch; a stale
	// entry keeps serving while the server is unreachable so one flaky MCP
	// does not blank out the tool view.
	toolCache   map[string]cachedCatalog
	toolCacheMu sync.RWMutex
	cacheTTL    time.Duration

	// reinitMu serializes session (re)creation per server, refreshMu
	// coalesces catalog refreshes per server. Both hold *sync.Mutex values.
	reinitMu  sync.Map
	refreshMu sync.Map

	logger *slog.Logger
}

// newClient creates a new Client. cacheTTL <= 0 disables catalog caching.
func newClient(registry *config.MCPServerRegistry, cacheTTL time.Duration) *Client {
	return &Client{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string]cachedCatalog),
		cacheTTL:      cacheTTL,
		logger:        slog.Default(),
	}
}

// mutexFor returns the per-server mutex stored in m, creating it on first use.
func mutexFor(m *sync.Map, serverID string) *sync.Mutex {
	muI, _ := m.LoadOrStore(serverID, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

// Initialize connects to every listed server. A server that fails to connect
// lands in FailedServers instead of aborting the rest; whether that is fatal
// is the caller's call (startup validation treats it as fatal, runtime
// reconnects lazily).
//
// Always returns nil today; the error return is retained so the signature can
// evolve (e.g., returning an error when *all* servers fail) without breaking
// callers.
func (c *Client) Initialize(ctx context.Context, serverIDs []string) error {
	for _, serverID := range serverIDs {
		if err := c.InitializeServer(ctx, serverID); err != nil {
			c.markFailed(serverID, err)
			c.logger.Warn("MCP server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// InitializeServer connects one server, or returns nil if it already has a
// session. Concurrent calls for the same server serialize on its reinit
// mutex, so exactly one of them dials.
func (c *Client) InitializeServer(ctx context.Context, serverID string) error {
	mu := mutexFor(&c.reinitMu, serverID)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, serverID)
}

// initializeServerLocked dials and registers one session. The caller must
// hold the server's reinit mutex; holding it makes the exists-check below
// race-free.
func (c *Client) initializeServerLocked(ctx context.Context, serverID string) error {
	c.mu.RLock()
	_, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}
	if !serverCfg.IsEnabled() {
		return fmt.Errorf("server %q is disabled", serverID)
	}

	transport, err := newTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, MCPInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// A failed Connect can leave the transport holding resources, stdio
		// child processes in particular. Close it when the type allows.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = client
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "server", serverID)
	return nil
}

// markFailed records the latest initialization failure for a server.
func (c *Client) markFailed(serverID string, err error) {
	c.mu.Lock()
	c.failedServers[serverID] = err.Error()
	c.mu.Unlock()
}

// catalogEntry reads the cached catalog for a server.
// Lock ordering: never acquire c.mu while holding toolCacheMu.
func (c *Client) catalogEntry(serverID string) (cachedCatalog, bool) {
	c.toolCacheMu.RLock()
	defer c.toolCacheMu.RUnlock()
	entry, ok := c.toolCache[serverID]
	return entry, ok
}

// ListTools returns the tool catalog for a server.
// A cache entry younger than the TTL is served directly. On miss or staleness
// the catalog is re-fetched; concurrent refreshes for the same server
// coalesce behind a per-server mutex. When the fetch fails and a stale entry
// exists, the stale catalog is served so an unhealthy server degrades to an
// aging tool view instead of none.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	if entry, ok := c.catalogEntry(serverID); ok && entry.fresh(c.cacheTTL) {
		return entry.tools, nil
	}

	mu := mutexFor(&c.refreshMu, serverID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the refresh lock; a concurrent caller may have
	// refreshed while we waited.
	entry, cached := c.catalogEntry(serverID)
	if cached && entry.fresh(c.cacheTTL) {
		return entry.tools, nil
	}

	tools, err := c.fetchTools(ctx, serverID)
	if err != nil {
		if cached {
			c.logger.Warn("Tool catalog refresh failed, serving stale entry",
				"server", serverID, "age", time.Since(entry.fetchedAt), "error", err)
			return entry.tools, nil
		}
		return nil, err
	}

	c.toolCacheMu.Lock()
	c.toolCache[serverID] = cachedCatalog{tools: tools, fetchedAt: time.Now()}
	c.toolCacheMu.Unlock()

	return tools, nil
}

// fetchTools performs one ListTools round-trip, lazily connecting first.
func (c *Client) fetchTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	// Cache hits must never hand a nil slice to callers.
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	return tools, nil
}

// ListAllTools returns the catalogs of every enabled server. Servers that
// fail are logged and skipped; the error return fires only when every single
// server failed and there is nothing to offer.
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	serverIDs := c.registry.EnabledServerIDs()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn("Failed to list tools from MCP server",
				"server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool invokes one tool and, on a transport-shaped failure, retries once
// after a jittered backoff, rebuilding the session first when the error
// classification calls for it. A result with IsError set is a result, not a
// Go error; it comes back unchanged.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	result, err := c.callToolOnce(ctx, serverID, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("MCP call failed, retrying",
		"server", serverID, "tool", toolName,
		"action", action, "error", err)

	if err := sleepJittered(ctx); err != nil {
		return nil, err
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx, serverID); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", serverID, err)
		}
	}

	result, err = c.callToolOnce(ctx, serverID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %s: %w", DisplayToolName(serverID, toolName), err)
	}
	return result, nil
}

// sleepJittered blocks for a random duration between RetryBackoffMin and
// RetryBackoffMax, or until ctx is done.
func sleepJittered(ctx context.Context) error {
	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callToolOnce performs a single CallTool attempt, lazily connecting first.
func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// session returns the live session for a server, connecting lazily when none
// exists yet.
func (c *Client) session(ctx context.Context, serverID string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return session, nil
	}

	if err := c.InitializeServer(ctx, serverID); err != nil {
		c.markFailed(serverID, err)
		return nil, err
	}

	c.mu.RLock()
	session, exists = c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}
	return session, nil
}

// recreateSession tears down a server's session and dials a new one, under
// the server's reinit mutex.
//
// Two goroutines racing in here recreate twice: the second cannot tell a
// fresh replacement session from the broken one it came to replace, so it
// tears the replacement down and builds another. The spare recreation is
// harmless and keeps the locking simple.
func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	mu := mutexFor(&c.reinitMu, serverID)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.mu.Unlock()

	// Drop the catalog for this server: the replacement session may expose
	// a different tool set.
	c.InvalidateToolCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.initializeServerLocked(reinitCtx, serverID)
}

// Close shuts down every session and clears all client state.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	// Taking toolCacheMu while holding mu is safe; no path takes them in
	// the other order.
	c.toolCacheMu.Lock()
	c.toolCache = make(map[string]cachedCatalog)
	c.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache removes the cached tool catalog for a server,
// forcing the next ListTools call to re-probe the server.
func (c *Client) InvalidateToolCache(serverID string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, serverID)
	c.toolCacheMu.Unlock()
}

// InvalidateAll drops every cached tool catalog.
func (c *Client) InvalidateAll() {
	c.toolCacheMu.Lock()
	c.toolCache = make(map[string]cachedCatalog)
	c.toolCacheMu.Unlock()
}

// CatalogAge returns how long ago the catalog for a server was fetched,
// and whether a cached entry exists at all.
func (c *Client) CatalogAge(serverID string) (time.Duration, bool) {
	entry, ok := c.catalogEntry(serverID)
	if !ok {
		return 0, false
	}
	return time.Since(entry.fetchedAt), true
}

// HasSession checks if a server has an active session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns a copy of the per-server initialization failures.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
