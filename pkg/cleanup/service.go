// Package cleanup enforces audit data retention.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/audit"
)

// Service periodically purges audit records older than the retention window.
// Deletion is idempotent and safe to run from multiple replicas.
type Service struct {
	store         audit.Store
	retentionDays int
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweep over the given store.
func NewService(store audit.Store, retentionDays int, interval time.Duration) *Service {
	return &Service{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Start launches the background sweep loop. The first sweep runs immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Audit retention sweep started",
		"retention_days", s.retentionDays,
		"interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Audit retention sweep stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.purge(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

func (s *Service) purge(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)

	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := s.store.PurgeBefore(purgeCtx, cutoff)
	if err != nil {
		slog.Error("Retention: audit purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged old audit records", "count", count, "cutoff", cutoff)
	}
}
