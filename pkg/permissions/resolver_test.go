package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog is an in-memory ToolCatalog with per-server tool lists,
// injectable errors, and a call counter.
type fakeCatalog struct {
	mu    sync.Mutex
	tools map[string][]*mcpsdk.Tool
	errs  map[string]error
	calls map[string]int
	block chan struct{} // when set, ListTools waits for close
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tools: make(map[string][]*mcpsdk.Tool),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeCatalog) ListTools(_ context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	f.mu.Lock()
	f.calls[serverID]++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[serverID]; err != nil {
		return nil, err
	}
	return f.tools[serverID], nil
}

func (f *fakeCatalog) callCount(serverID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[serverID]
}

func testTool(name string) *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        name,
		Description: "test tool: " + name,
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func TestResolverAllowedTools(t *testing.T) {
	snap := policySnapshot()
	catalog := newFakeCatalog()
	catalog.tools["database-mcp"] = []*mcpsdk.Tool{
		testTool("list_available_databases"),
		testTool("get_database_health"),
		testTool("compare_oracle_query_plans"),
	}
	catalog.tools["oracle-mcp"] = []*mcpsdk.Tool{
		testTool("get_query_plan"),
		testTool("set_parameter"),
	}
	catalog.tools["admin-mcp"] = []*mcpsdk.Tool{
		testTool("drop_table"),
		testTool("vacuum_table"),
	}

	resolver := NewResolver(catalog, 0)
	ctx := context.Background()

	t.Run("dba role sees policy-filtered tools of every enabled server", func(t *testing.T) {
		view := resolver.AllowedTools(ctx, snap, "alice@x")
		require.NotNil(t, view)
		assert.Equal(t, "alice@x", view.UserID)
		assert.Equal(t, "dba", view.Role)

		// Servers sorted by ID; disabled-mcp absent.
		assert.Equal(t, []string{"admin-mcp", "database-mcp", "oracle-mcp"}, view.ServerIDs())

		// admin-mcp excludes drop_* by policy.
		assert.True(t, view.Contains("admin-mcp", "vacuum_table"))
		assert.False(t, view.Contains("admin-mcp", "drop_table"))

		// oracle-mcp allow_only keeps get_*/list_*.
		assert.True(t, view.Contains("oracle-mcp", "get_query_plan"))
		assert.False(t, view.Contains("oracle-mcp", "set_parameter"))

		assert.Equal(t, 5, view.ToolCount())
	})

	t.Run("custom override narrows the tool list", func(t *testing.T) {
		view := resolver.AllowedTools(ctx, snap, "contractor@ext")
		assert.Equal(t, []string{"database-mcp"}, view.ServerIDs())
		assert.True(t, view.Contains("database-mcp", "list_available_databases"))
		assert.True(t, view.Contains("database-mcp", "get_database_health"))
		assert.False(t, view.Contains("database-mcp", "compare_oracle_query_plans"))
	})

	t.Run("unknown user gets the default role view", func(t *testing.T) {
		view := resolver.AllowedTools(ctx, snap, "stranger@nowhere")
		assert.Equal(t, "default_user", view.Role)
		assert.Equal(t, []string{"database-mcp"}, view.ServerIDs())
		assert.Equal(t, 3, view.ToolCount())
	})

	t.Run("repeated resolution is byte-identical", func(t *testing.T) {
		first, err := json.Marshal(resolver.AllowedTools(ctx, snap, "alice@x"))
		require.NoError(t, err)
		second, err := json.Marshal(resolver.AllowedTools(ctx, snap, "alice@x"))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("duplicate advertised names are kept once", func(t *testing.T) {
		dup := newFakeCatalog()
		dup.tools["database-mcp"] = []*mcpsdk.Tool{
			testTool("get_database_health"),
			testTool("get_database_health"),
		}
		view := NewResolver(dup, 0).AllowedTools(ctx, snap, "alice@x")
		assert.True(t, view.Contains("database-mcp", "get_database_health"))

		for _, server := range view.Servers {
			if server.ServerID == "database-mcp" {
				assert.Len(t, server.Tools, 1)
			}
		}
	})
}

func TestResolverSkipsFailedServer(t *testing.T) {
	snap := policySnapshot()
	catalog := newFakeCatalog()
	catalog.tools["database-mcp"] = []*mcpsdk.Tool{testTool("get_database_health")}
	catalog.errs["oracle-mcp"] = errors.New("connection refused")
	catalog.tools["admin-mcp"] = []*mcpsdk.Tool{testTool("vacuum_table")}

	resolver := NewResolver(catalog, 0)
	view := resolver.AllowedTools(context.Background(), snap, "alice@x")

	// The failed server is absent, the healthy ones remain.
	assert.Equal(t, []string{"admin-mcp", "database-mcp"}, view.ServerIDs())
}

func TestResolverSkipsOutOfScopeServers(t *testing.T) {
	snap := policySnapshot()
	catalog := newFakeCatalog()
	catalog.tools["database-mcp"] = []*mcpsdk.Tool{testTool("get_database_health")}

	resolver := NewResolver(catalog, 0)
	resolver.AllowedTools(context.Background(), snap, "stranger@nowhere")

	// default_user only grants database-mcp: no catalog fetch elsewhere.
	assert.Equal(t, 1, catalog.callCount("database-mcp"))
	assert.Equal(t, 0, catalog.callCount("oracle-mcp"))
	assert.Equal(t, 0, catalog.callCount("admin-mcp"))
	assert.Equal(t, 0, catalog.callCount("disabled-mcp"))
}

func TestResolverCache(t *testing.T) {
	snap := policySnapshot()
	catalog := newFakeCatalog()
	catalog.tools["database-mcp"] = []*mcpsdk.Tool{testTool("get_database_health")}

	resolver := NewResolver(catalog, time.Minute)
	ctx := context.Background()

	first := resolver.AllowedTools(ctx, snap, "stranger@nowhere")
	second := resolver.AllowedTools(ctx, snap, "stranger@nowhere")

	assert.Same(t, first, second, "second call should be served from cache")
	assert.Equal(t, 1, catalog.callCount("database-mcp"))

	t.Run("invalidate forces a rebuild", func(t *testing.T) {
		resolver.Invalidate("stranger@nowhere")
		third := resolver.AllowedTools(ctx, snap, "stranger@nowhere")
		assert.NotSame(t, first, third)
		assert.Equal(t, 2, catalog.callCount("database-mcp"))
	})

	t.Run("snapshot change misses the cache", func(t *testing.T) {
		calls := catalog.callCount("database-mcp")
		otherSnap := policySnapshot()
		resolver.AllowedTools(ctx, otherSnap, "stranger@nowhere")
		assert.Equal(t, calls+1, catalog.callCount("database-mcp"))
	})

	t.Run("invalidate all empties the cache", func(t *testing.T) {
		resolver.InvalidateAll()
		calls := catalog.callCount("database-mcp")
		resolver.AllowedTools(ctx, snap, "stranger@nowhere")
		assert.Equal(t, calls+1, catalog.callCount("database-mcp"))
	})
}

func TestResolverCacheDisabled(t *testing.T) {
	snap := policySnapshot()
	catalog := newFakeCatalog()
	catalog.tools["database-mcp"] = []*mcpsdk.Tool{testTool("get_database_health")}

	resolver := NewResolver(catalog, 0)
	ctx := context.Background()

	resolver.AllowedTools(ctx, snap, "stranger@nowhere")
	resolver.AllowedTools(ctx, snap, "stranger@nowhere")
	assert.Equal(t, 2, catalog.callCount("database-mcp"))
}

func TestResolverSingleflight(t *testing.T) {
	snap := policySnapshot()
	catalog := newFakeCatalog()
	catalog.tools["database-mcp"] = []*mcpsdk.Tool{testTool("get_database_health")}
	catalog.block = make(chan struct{})

	resolver := NewResolver(catalog, time.Minute)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	views := make([]*ToolsView, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i] = resolver.AllowedTools(ctx, snap, "stranger@nowhere")
		}(i)
	}

	// Let the callers pile up on the in-flight build, then release it.
	time.Sleep(50 * time.Millisecond)
	close(catalog.block)
	wg.Wait()

	assert.Equal(t, 1, catalog.callCount("database-mcp"), "concurrent callers should coalesce into one build")
	for _, view := range views {
		require.NotNil(t, view)
		assert.Same(t, views[0], view)
	}
}
