package sensor

import "sync"

// frameHolder keeps the newest unread frame of a stream. A new frame replaces
// and releases the pending one. Waiters registered with addWaiter get a
// non-blocking signal on every change.
type frameHolder struct {
	mu        sync.Mutex
	pending   *Frame
	pendingTS uint64
	lastIndex int64
	hasLast   bool
	dropped   uint64
	waiters   map[chan struct{}]struct{}
}

type pushResult int

const (
	pushAccepted pushResult = iota
	pushReplaced
	pushRejected
)

// push takes ownership of f.
func (h *frameHolder) push(f *Frame, info FrameInfo) pushResult {
	h.mu.Lock()
	if h.hasLast && info.Index <= h.lastIndex {
		h.mu.Unlock()
		f.Release()
		return pushRejected
	}
	res := pushAccepted
	old := h.pending
	if old != nil {
		h.dropped++
		res = pushReplaced
	}
	h.pending = f
	h.pendingTS = info.TimestampMicros
	h.lastIndex = info.Index
	h.hasLast = true
	h.signalLocked()
	h.mu.Unlock()

	old.Release()
	return res
}

// take removes and returns the pending frame, or nil.
func (h *frameHolder) take() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.pending
	h.pending = nil
	return f
}

// peek reports the pending frame's timestamp.
func (h *frameHolder) peek() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingTS, h.pending != nil
}

// clear drops the pending frame and wakes waiters.
func (h *frameHolder) clear() {
	h.mu.Lock()
	f := h.pending
	h.pending = nil
	h.signalLocked()
	h.mu.Unlock()
	f.Release()
}

// reset clears and forgets the last index so a rewound source can start
// over.
func (h *frameHolder) reset() {
	h.mu.Lock()
	h.hasLast = false
	h.mu.Unlock()
	h.clear()
}

func (h *frameHolder) wake() {
	h.mu.Lock()
	h.signalLocked()
	h.mu.Unlock()
}

func (h *frameHolder) droppedCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *frameHolder) addWaiter(ch chan struct{}) {
	h.mu.Lock()
	if h.waiters == nil {
		h.waiters = make(map[chan struct{}]struct{})
	}
	h.waiters[ch] = struct{}{}
	h.mu.Unlock()
}

func (h *frameHolder) removeWaiter(ch chan struct{}) {
	h.mu.Lock()
	delete(h.waiters, ch)
	h.mu.Unlock()
}

func (h *frameHolder) signalLocked() {
	for ch := range h.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
