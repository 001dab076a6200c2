package mcp

import (
	"sync"
	"time"
)

// describeTracker records recent toolbox_describe_tool calls so
// handleCreateJob can tell when a caller submits a tool it never looked at
// and add a hint to the result.
//
// Keyed on (sessionID, tool) with a time window. In-memory and per process;
// the hint is advisory, not a gate.
type describeTracker struct {
	mu     sync.Mutex
	seen   map[describeKey]time.Time
	window time.Duration
}

type describeKey struct {
	sessionID string
	tool      string
}

func newDescribeTracker(window time.Duration) *describeTracker {
	return &describeTracker{
		seen:   make(map[describeKey]time.Time),
		window: window,
	}
}

// Record notes that the session described the tool.
func (t *describeTracker) Record(sessionID, tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[describeKey{sessionID, tool}] = time.Now()

	if len(t.seen) > 1000 {
		t.purgeStale()
	}
}

// WasDescribed reports whether the session described the tool within the
// window.
func (t *describeTracker) WasDescribed(sessionID, tool string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.seen[describeKey{sessionID, tool}]
	if !ok {
		return false
	}
	if time.Since(ts) > t.window {
		delete(t.seen, describeKey{sessionID, tool})
		return false
	}
	return true
}

// purgeStale must be called with mu held.
func (t *describeTracker) purgeStale() {
	now := time.Now()
	for k, ts := range t.seen {
		if now.Sub(ts) > t.window {
			delete(t.seen, k)
		}
	}
}
