package services

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning categories.
const (
	WarningCategoryMCPHealth = "mcp_health" // an MCP server stopped answering health probes
)

// SystemWarning is one active non-fatal condition, surfaced on /health until
// the originating component clears it.
type SystemWarning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	ServerID  string    `json:"server_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Warnings holds the active system warnings in memory. Warnings are
// transient operational state: nothing is persisted, and a restart clears
// the slate.
type Warnings struct {
	mu     sync.RWMutex
	active map[string]*SystemWarning // warningID → warning
}

// NewWarnings creates an empty warnings table.
func NewWarnings() *Warnings {
	return &Warnings{active: make(map[string]*SystemWarning)}
}

// Add records a warning and returns its ID. At most one warning exists per
// (category, serverID) pair: re-adding replaces the previous one, so a
// flapping server updates its warning instead of accumulating duplicates.
func (w *Warnings) Add(category, message, details, serverID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, warning := range w.active {
		if warning.Category == category && warning.ServerID == serverID {
			delete(w.active, id)
			break
		}
	}

	id := uuid.New().String()
	w.active[id] = &SystemWarning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		ServerID:  serverID,
		CreatedAt: time.Now(),
	}
	return id
}

// Active returns copies of all active warnings, oldest first. Callers may
// read or hold the returned structs without synchronization.
func (w *Warnings) Active() []*SystemWarning {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]*SystemWarning, 0, len(w.active))
	for _, warning := range w.active {
		cp := *warning
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Clear removes the warning for (category, serverID), reporting whether one
// existed. The health monitor calls this when a server recovers.
func (w *Warnings) Clear(category, serverID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, warning := range w.active {
		if warning.Category == category && warning.ServerID == serverID {
			delete(w.active, id)
			return true
		}
	}
	return false
}
