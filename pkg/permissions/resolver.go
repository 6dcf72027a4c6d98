package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// ToolCatalog supplies the advertised tool list of one MCP server.
// *mcp.Client satisfies it.
type ToolCatalog interface {
	ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error)
}

// Resolver derives per-user tool views from a config snapshot and the live
// tool catalog. Views are cached per user for a short TTL with singleflight
// compute-on-miss; the cache is an optimization only, evaluation stays a
// pure function of (snapshot, user, catalog).
type Resolver struct {
	catalog ToolCatalog
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

type cacheEntry struct {
	view     *ToolsView
	snapshot *config.Config
	builtAt  time.Time
}

// NewResolver creates a resolver over the given catalog. ttl <= 0 disables
// the view cache.
func NewResolver(catalog ToolCatalog, ttl time.Duration) *Resolver {
	return &Resolver{
		catalog: catalog,
		ttl:     ttl,
		logger:  slog.Default().With("component", "permissions"),
		cache:   make(map[string]cacheEntry),
	}
}

// Check evaluates a single (server, tool) pair for a user under the given
// snapshot. It consults configuration only, never the catalog, so an
// allowed decision does not imply the server currently advertises the tool.
func (r *Resolver) Check(snap *config.Config, userID, serverID, toolName string) Decision {
	return Evaluate(snap, snap.ResolveUser(userID), serverID, toolName)
}

// AllowedTools returns the user's effective tool view under the given
// snapshot. Concurrent calls for the same user coalesce into one build.
func (r *Resolver) AllowedTools(ctx context.Context, snap *config.Config, userID string) *ToolsView {
	if view, ok := r.cached(snap, userID); ok {
		return view
	}

	// Key on the snapshot pointer too: a reload mid-flight must not hand a
	// waiter a view built against the other snapshot.
	key := fmt.Sprintf("%s\x00%p", userID, snap)
	v, _, _ := r.group.Do(key, func() (any, error) {
		if view, ok := r.cached(snap, userID); ok {
			return view, nil
		}
		view := r.build(ctx, snap, userID)
		r.store(snap, userID, view)
		return view, nil
	})
	return v.(*ToolsView)
}

// Invalidate drops the cached view for one user.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, userID)
}

// InvalidateAll drops every cached view. Stale entries are also rejected by
// snapshot identity, so this only reclaims memory earlier.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

func (r *Resolver) cached(snap *config.Config, userID string) (*ToolsView, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[userID]
	if !ok || entry.snapshot != snap || time.Since(entry.builtAt) >= r.ttl {
		return nil, false
	}
	return entry.view, true
}

func (r *Resolver) store(snap *config.Config, userID string, view *ToolsView) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[userID] = cacheEntry{view: view, snapshot: snap, builtAt: time.Now()}
}

// build walks the enabled servers in sorted order and evaluates every
// advertised tool. Servers whose catalog cannot be listed are skipped with
// a warning; a degraded view is more useful than no view.
func (r *Resolver) build(ctx context.Context, snap *config.Config, userID string) *ToolsView {
	user := snap.ResolveUser(userID)
	view := &ToolsView{UserID: userID, Role: user.Role}

	for _, serverID := range snap.EnabledMCPServerIDs() {
		if !serverInScope(user, serverID) {
			continue
		}
		serverCfg, err := snap.GetMCPServer(serverID)
		if err != nil {
			continue
		}

		tools, err := r.catalog.ListTools(ctx, serverID)
		if err != nil {
			r.logger.Warn("Skipping MCP server in permission view: tool listing failed",
				"server", serverID, "user", userID, "error", err)
			continue
		}

		serverView := ServerTools{ServerID: serverID, Instructions: serverCfg.Instructions}
		seen := make(map[string]bool, len(tools))
		for _, tool := range tools {
			if tool == nil || tool.Name == "" || seen[tool.Name] {
				continue
			}
			seen[tool.Name] = true
			if decision := Evaluate(snap, user, serverID, tool.Name); !decision.Allowed {
				continue
			}
			serverView.Tools = append(serverView.Tools, Tool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: marshalSchema(tool.InputSchema),
			})
		}
		if len(serverView.Tools) > 0 {
			view.Servers = append(view.Servers, serverView)
		}
	}
	return view
}

// serverInScope reports whether evaluation can possibly allow tools on the
// server: either the role grants it or a non-inherit override names it.
// Out-of-scope servers are skipped without a catalog fetch.
func serverInScope(user *config.ResolvedUser, serverID string) bool {
	if override, ok := user.Override(serverID); ok && override.Mode != config.OverrideModeInherit {
		return true
	}
	return user.GrantsServer(serverID)
}

// marshalSchema serializes an advertised input schema to raw JSON.
// Nil or unmarshalable schemas yield nil so the declaration omits them.
func marshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil || string(data) == "null" {
		return nil
	}
	return data
}
