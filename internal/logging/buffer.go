package logging

import (
	"sync"
	"time"
)

// LogEntry is one record kept in the ring buffer.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the last N log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool

	subID uint64
	subs  map[uint64]func(LogEntry)
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{entries: make([]LogEntry, size)}
}

// Write stores entry, evicting the oldest one when full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.next] = entry
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.full = true
	}
	subs := make([]func(LogEntry), 0, len(rb.subs))
	for _, fn := range rb.subs {
		subs = append(subs, fn)
	}
	rb.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}

// Subscribe calls fn for every entry written after it returns. fn runs on
// the logging goroutine and must not log or block.
func (rb *RingBuffer) Subscribe(fn func(LogEntry)) func() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.subs == nil {
		rb.subs = make(map[uint64]func(LogEntry))
	}
	rb.subID++
	id := rb.subID
	rb.subs[id] = fn
	return func() {
		rb.mu.Lock()
		delete(rb.subs, id)
		rb.mu.Unlock()
	}
}

// Last returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (rb *RingBuffer) Last(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.next
	if rb.full {
		count = len(rb.entries)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]LogEntry, n)
	start := rb.next - n
	for i := range out {
		idx := start + i
		if idx < 0 {
			idx += len(rb.entries)
		}
		out[i] = rb.entries[idx]
	}
	return out
}

// Count returns the number of stored entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}
