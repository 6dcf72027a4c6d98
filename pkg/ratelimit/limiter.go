package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool

	// Remaining admissions left in the current window.
	// config.RateLimitUnlimited when the ceiling is unlimited.
	Remaining int

	// ResetAt is when the oldest counted request leaves the window: the
	// earliest moment a rejected caller may retry. Zero when unlimited or
	// when nothing is counted yet.
	ResetAt time.Time
}

// Limiter admits requests against per-user sliding windows. Operations on
// one user's window are mutually exclusive; different users never contend.
type Limiter struct {
	window        time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time // swapped in tests

	mu      sync.Mutex
	windows map[string]*userWindow

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// userWindow holds one user's admission timestamps in append order.
type userWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	gone   bool // set when the sweep evicts the entry from the map
}

// NewLimiter creates a limiter over the given sliding window.
// window <= 0 falls back to one hour.
func NewLimiter(window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		window:        window,
		sweepInterval: window / 4,
		logger:        slog.Default().With("component", "ratelimit"),
		now:           time.Now,
		windows:       make(map[string]*userWindow),
		stopCh:        make(chan struct{}),
	}
}

// Window returns the sliding window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Check admits or rejects one request for userID under the given ceiling.
// Admission appends the current timestamp; rejection records nothing.
// limit == config.RateLimitUnlimited short-circuits without touching state.
func (l *Limiter) Check(userID string, limit int) Decision {
	if limit == config.RateLimitUnlimited {
		return Decision{Allowed: true, Remaining: config.RateLimitUnlimited}
	}

	for {
		entry := l.entry(userID)
		entry.mu.Lock()
		if entry.gone {
			// Swept between lookup and lock; retry against a fresh entry.
			entry.mu.Unlock()
			continue
		}
		decision := l.admit(entry, limit)
		entry.mu.Unlock()
		return decision
	}
}

// admit applies the sliding-window rule to a locked entry.
func (l *Limiter) admit(entry *userWindow, limit int) Decision {
	now := l.now()
	entry.prune(now.Add(-l.window))

	if len(entry.stamps) >= limit {
		decision := Decision{Allowed: false, Remaining: 0}
		if len(entry.stamps) > 0 {
			decision.ResetAt = entry.stamps[0].Add(l.window)
		}
		return decision
	}

	entry.stamps = append(entry.stamps, now)
	return Decision{
		Allowed:   true,
		Remaining: limit - len(entry.stamps),
		ResetAt:   entry.stamps[0].Add(l.window),
	}
}

// prune drops timestamps at or before cutoff. Stamps are appended in order,
// so pruning stops at the first one still inside the window.
func (w *userWindow) prune(cutoff time.Time) {
	drop := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			break
		}
		drop++
	}
	if drop > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[drop:]...)
	}
}

// entry returns the window for userID, creating it on first use.
func (l *Limiter) entry(userID string) *userWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.windows[userID]
	if !ok {
		entry = &userWindow{}
		l.windows[userID] = entry
	}
	return entry
}

// TrackedUsers returns the number of users with a live window entry.
func (l *Limiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start launches the periodic sweep that evicts idle user windows.
// Safe to call once; duplicate calls are no-ops.
func (l *Limiter) Start() {
	if l.started {
		l.logger.Warn("Rate limiter already started, ignoring duplicate Start call")
		return
	}
	l.started = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// sweep evicts users whose newest timestamp has left the window. Evicted
// entries are flagged so a concurrent Check re-creates instead of writing
// to an orphan.
func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for userID, entry := range l.windows {
		entry.mu.Lock()
		idle := len(entry.stamps) == 0 || !entry.stamps[len(entry.stamps)-1].After(cutoff)
		if idle {
			entry.gone = true
			delete(l.windows, userID)
			removed++
		}
		entry.mu.Unlock()
	}

	if removed > 0 {
		l.logger.Debug("Evicted idle rate limit windows", "count", removed)
	}
}
