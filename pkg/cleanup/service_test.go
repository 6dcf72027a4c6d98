package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/audit"
	"github.com/codeready-toolchain/bridgy/pkg/models"
)

func seedRecord(t *testing.T, store *audit.MemoryStore, id string, age time.Duration) {
	t.Helper()
	err := store.Insert(context.Background(), &models.AuditRecord{
		ID:        id,
		UserID:    "alice@x",
		Message:   "why is checkout slow?",
		Status:    models.AuditStatusSuccess,
		CreatedAt: time.Now().UTC().Add(-age),
	})
	require.NoError(t, err)
}

func TestService_PurgesOldRecords(t *testing.T) {
	store := audit.NewMemoryStore(0)
	seedRecord(t, store, "rec-old", 100*24*time.Hour)
	seedRecord(t, store, "rec-new", time.Hour)

	svc := NewService(store, 90, time.Hour)
	svc.purge(context.Background())

	assert.Equal(t, 1, store.Len())
	_, err := store.GetByID(context.Background(), "rec-old")
	assert.Error(t, err)
	_, err = store.GetByID(context.Background(), "rec-new")
	assert.NoError(t, err)
}

func TestService_PreservesRecentRecords(t *testing.T) {
	store := audit.NewMemoryStore(0)
	seedRecord(t, store, "rec-1", time.Hour)
	seedRecord(t, store, "rec-2", 24*time.Hour)

	svc := NewService(store, 90, time.Hour)
	svc.purge(context.Background())

	assert.Equal(t, 2, store.Len())
}

func TestService_StartRunsImmediateSweep(t *testing.T) {
	store := audit.NewMemoryStore(0)
	seedRecord(t, store, "rec-old", 100*24*time.Hour)

	svc := NewService(store, 90, time.Hour)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_StopIsIdempotent(t *testing.T) {
	svc := NewService(audit.NewMemoryStore(0), 90, time.Hour)

	// Stop before Start is a no-op.
	svc.Stop()

	svc.Start(context.Background())
	svc.Stop()
}
