package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// MemoryStore is a bounded in-memory Store. It backs tests and the no-DB
// development mode; records vanish on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord // append order, oldest first
	bound   int
}

// DefaultMemoryBound caps the in-memory record list when none is given.
const DefaultMemoryBound = 1000

// NewMemoryStore creates a store keeping at most bound records
// (<= 0 falls back to DefaultMemoryBound).
func NewMemoryStore(bound int) *MemoryStore {
	if bound <= 0 {
		bound = DefaultMemoryBound
	}
	return &MemoryStore{bound: bound}
}

// Insert stores a copy of the record, truncating the oldest beyond the bound.
func (s *MemoryStore) Insert(_ context.Context, record *models.AuditRecord) error {
	clone := *record
	if clone.ID == "" {
		clone.ID = uuid.New().String()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, &clone)
	if overflow := len(s.records) - s.bound; overflow > 0 {
		s.records = append(s.records[:0], s.records[overflow:]...)
	}
	return nil
}

// Recent returns the newest records, newest first, optionally filtered by user.
func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]*models.AuditRecord, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AuditRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		record := s.records[i]
		if userID != "" && record.UserID != userID {
			continue
		}
		clone := *record
		out = append(out, &clone)
	}
	return out, nil
}

// GetByID fetches one record by ID.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.ID == id {
			clone := *record
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: audit record %s", services.ErrNotFound, id)
}

// PurgeBefore deletes records older than cutoff and reports how many went.
func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var purged int64
	for _, record := range s.records {
		if record.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return purged, nil
}

// UsageSummary aggregates one user's requests since the given time.
func (s *MemoryStore) UsageSummary(_ context.Context, userID string, since time.Time) (*models.UsageSummary, error) {
	summary := &models.UsageSummary{UserID: userID, Since: since}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.UserID != userID || record.CreatedAt.Before(since) {
			continue
		}
		summary.Requests++
		summary.ToolCalls += record.ToolCallsCount
		summary.TokensInput += record.TokensInput
		summary.TokensOutput += record.TokensOutput
		summary.TokensCached += record.TokensCached
		summary.TotalCost += record.CostEstimate
	}
	return summary, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
