package sensor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/smazurov/depthnode/internal/metrics"
	"github.com/smazurov/depthnode/internal/sensor/handle"
)

const defaultFreePerSize = 8

type buffer struct {
	pool   *FramePool
	handle handle.Handle
	data   []byte
	info   FrameInfo
	refs   atomic.Int32
}

func (b *buffer) incRef() bool {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (b *buffer) decRef() {
	if n := b.refs.Add(-1); n == 0 {
		b.pool.recycle(b)
	} else if n < 0 {
		panic(fmt.Sprintf("sensor: frame buffer %s released below zero", b.handle))
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Allocated int64 `json:"allocated"`
	InUse     int64 `json:"in_use"`
	Recycled  int64 `json:"recycled"`
	Free      int   `json:"free"`
}

// FramePool hands out reference-counted frame buffers and reuses the memory
// of released ones.
type FramePool struct {
	buffers *handle.Table[*buffer]

	mu          sync.Mutex
	free        map[int][][]byte
	freeCount   int
	freePerSize int

	allocated atomic.Int64
	inUse     atomic.Int64
	recycled  atomic.Int64
}

// NewFramePool returns an empty pool.
func NewFramePool() *FramePool {
	return &FramePool{
		buffers:     handle.New[*buffer](),
		free:        make(map[int][][]byte),
		freePerSize: defaultFreePerSize,
	}
}

// Allocate returns a frame of size bytes with a reference count of one.
// The contents are not zeroed when memory is reused.
func (p *FramePool) Allocate(size int) *Frame {
	b := &buffer{pool: p, data: p.take(size)}
	b.refs.Store(1)
	b.handle = p.buffers.Insert(b)

	p.allocated.Add(1)
	metrics.SetBuffersInUse(p.inUse.Add(1))
	return &Frame{buf: b}
}

// Acquire returns a new reference to the buffer named by h. It fails with
// ErrIllegalState once the buffer has been recycled.
func (p *FramePool) Acquire(h handle.Handle) (*Frame, error) {
	b, err := p.buffers.Get(h)
	if err != nil || !b.incRef() {
		return nil, newError(CodeIllegalState, "frame acquire", fmt.Sprintf("frame %s is no longer live", h))
	}
	return &Frame{buf: b}, nil
}

// Stats returns current counters.
func (p *FramePool) Stats() PoolStats {
	p.mu.Lock()
	free := p.freeCount
	p.mu.Unlock()
	return PoolStats{
		Allocated: p.allocated.Load(),
		InUse:     p.inUse.Load(),
		Recycled:  p.recycled.Load(),
		Free:      free,
	}
}

func (p *FramePool) take(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.free[size]
	if n := len(list); n > 0 {
		data := list[n-1]
		p.free[size] = list[:n-1]
		p.freeCount--
		return data
	}
	return make([]byte, size)
}

func (p *FramePool) recycle(b *buffer) {
	_, _ = p.buffers.Remove(b.handle)
	data := b.data
	b.data = nil

	metrics.SetBuffersInUse(p.inUse.Add(-1))
	p.recycled.Add(1)
	metrics.BufferRecycled()

	size := len(data)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free[size]) < p.freePerSize {
		p.free[size] = append(p.free[size], data)
		p.freeCount++
	}
}
