package threads

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/llm"
)

const (
	// DefaultDepth is the per-conversation message bound when none is configured.
	DefaultDepth = 3

	// DefaultTTL is the idle eviction age when none is configured.
	DefaultTTL = 24 * time.Hour
)

// Message is one stored conversational turn. Tool exchanges are not
// persisted; a thread replays only the user/assistant surface.
type Message struct {
	Role llm.Role  `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Store maps conversation IDs to bounded in-memory message FIFOs.
// Threads are conversational sugar, not state of record: nothing survives
// a restart, and idle conversations are swept away after the TTL.
type Store struct {
	depth         int
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time // swapped in tests

	mu      sync.Mutex
	threads map[string]*thread

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// thread holds one conversation's messages in append order.
type thread struct {
	mu          sync.Mutex
	messages    []Message
	lastTouched time.Time
	gone        bool // set when the sweep evicts the entry from the map
}

// NewStore creates a thread store keeping at most depth messages per
// conversation and evicting conversations idle for ttl.
func NewStore(depth int, ttl time.Duration) *Store {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sweepInterval := ttl / 24
	if sweepInterval < time.Minute {
		sweepInterval = time.Minute
	}
	return &Store{
		depth:         depth,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        slog.Default().With("component", "threads"),
		now:           time.Now,
		threads:       make(map[string]*thread),
		stopCh:        make(chan struct{}),
	}
}

// Depth returns the per-conversation message bound.
func (s *Store) Depth() int {
	return s.depth
}

// Append records one message on the conversation, creating the thread on
// first use and truncating the oldest messages beyond the bound.
func (s *Store) Append(conversationID string, role llm.Role, text string) {
	if conversationID == "" {
		return
	}

	for {
		entry := s.entry(conversationID)
		entry.mu.Lock()
		if entry.gone {
			entry.mu.Unlock()
			continue
		}

		now := s.now()
		entry.messages = append(entry.messages, Message{Role: role, Text: text, At: now})
		if overflow := len(entry.messages) - s.depth; overflow > 0 {
			entry.messages = append(entry.messages[:0], entry.messages[overflow:]...)
		}
		entry.lastTouched = now
		entry.mu.Unlock()
		return
	}
}

// Recent returns copies of the newest n messages in chronological order.
// n <= 0 means all stored messages. Reading counts as touching.
func (s *Store) Recent(conversationID string, n int) []Message {
	s.mu.Lock()
	entry, ok := s.threads[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.gone {
		return nil
	}

	entry.lastTouched = s.now()

	messages := entry.messages
	if n > 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// Len returns the number of messages stored for the conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.Lock()
	entry, ok := s.threads[conversationID]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.messages)
}

// ThreadCount returns the number of live conversations.
func (s *Store) ThreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// entry returns the thread for conversationID, creating it on first use.
func (s *Store) entry(conversationID string) *thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.threads[conversationID]
	if !ok {
		entry = &thread{lastTouched: s.now()}
		s.threads[conversationID] = entry
	}
	return entry
}

// Start launches the periodic sweep that evicts idle conversations.
// Safe to call once; duplicate calls are no-ops.
func (s *Store) Start() {
	if s.started {
		s.logger.Warn("Thread store already started, ignoring duplicate Start call")
		return
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// sweep evicts conversations untouched for at least the TTL.
func (s *Store) sweep() {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for conversationID, entry := range s.threads {
		entry.mu.Lock()
		if !entry.lastTouched.After(cutoff) {
			entry.gone = true
			delete(s.threads, conversationID)
			removed++
		}
		entry.mu.Unlock()
	}

	if removed > 0 {
		s.logger.Debug("Evicted idle conversations", "count", removed)
	}
}
