package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/models"
)

const (
	// DefaultQueueSize bounds the write-behind queue.
	DefaultQueueSize = 256

	// insertTimeout bounds one insert attempt.
	insertTimeout = 5 * time.Second

	// retryDelay separates the two insert attempts for one record.
	retryDelay = 250 * time.Millisecond
)

// Recorder moves audit persistence off the request path: Record never
// blocks the caller. A single writer goroutine drains a bounded queue; a
// failed insert is retried once, then the record is logged and dropped.
type Recorder struct {
	store  Store
	queue  chan *models.AuditRecord
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
	started  bool

	written atomic.Int64
	retries atomic.Int64
	dropped atomic.Int64
}

// Stats is a point-in-time view of recorder throughput.
type Stats struct {
	QueueDepth int   `json:"queue_depth"`
	Written    int64 `json:"written"`
	Retries    int64 `json:"retries"`
	Dropped    int64 `json:"dropped"`
}

// NewRecorder creates a recorder over the given store.
// queueSize <= 0 falls back to DefaultQueueSize.
func NewRecorder(store Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		store:  store,
		queue:  make(chan *models.AuditRecord, queueSize),
		logger: slog.Default().With("component", "audit"),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine. Safe to call once; duplicate calls
// are no-ops.
func (r *Recorder) Start() {
	if r.started {
		r.logger.Warn("Audit recorder already started, ignoring duplicate Start call")
		return
	}
	r.started = true
	go r.run()
}

// Record enqueues one record without blocking. When the queue is full or
// the recorder is stopped the record is counted as dropped and logged;
// auditing must never stall a response.
func (r *Recorder) Record(record *models.AuditRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		r.dropped.Add(1)
		r.logger.Warn("Audit recorder stopped, dropping record",
			"user", record.UserID, "status", record.Status)
		return
	}

	select {
	case r.queue <- record:
	default:
		r.dropped.Add(1)
		r.logger.Warn("Audit queue full, dropping record",
			"user", record.UserID, "status", record.Status, "queue_size", cap(r.queue))
	}
}

// Stop closes the queue, drains the remaining records, and waits for the
// writer to exit. Records offered after Stop are dropped.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.queue)
	})
	<-r.done
}

// Stats returns current queue depth and lifetime counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		QueueDepth: len(r.queue),
		Written:    r.written.Load(),
		Retries:    r.retries.Load(),
		Dropped:    r.dropped.Load(),
	}
}

// run is the single writer. It exits once the queue is closed and drained.
func (r *Recorder) run() {
	defer close(r.done)
	for record := range r.queue {
		r.write(record)
	}
}

// write inserts one record with at most one retry.
func (r *Recorder) write(record *models.AuditRecord) {
	err := r.insert(record)
	if err == nil {
		r.written.Add(1)
		return
	}

	r.retries.Add(1)
	r.logger.Warn("Audit insert failed, retrying once",
		"user", record.UserID, "status", record.Status, "error", err)
	time.Sleep(retryDelay)

	if err := r.insert(record); err != nil {
		r.dropped.Add(1)
		r.logger.Error("Dropping audit record after retry",
			"user", record.UserID, "status", record.Status, "error", err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) insert(record *models.AuditRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	return r.store.Insert(ctx, record)
}
