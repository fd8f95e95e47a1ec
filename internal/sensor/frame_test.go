package sensor

import (
	"errors"
	"sync"
	"testing"
)

func TestFrameReleaseIsIdempotentPerInstance(t *testing.T) {
	pool := NewFramePool()
	f := pool.Allocate(16)
	sibling, err := f.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	f.Release()
	f.Release()

	if _, err := f.Data(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Data after release: expected ErrIllegalState, got %v", err)
	}
	if _, err := f.Info(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Info after release: expected ErrIllegalState, got %v", err)
	}
	if _, err := f.Acquire(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Acquire after release: expected ErrIllegalState, got %v", err)
	}

	data, err := sibling.Data()
	if err != nil {
		t.Fatalf("sibling lost its buffer after double release: %v", err)
	}
	if len(data) != 16 {
		t.Errorf("sibling data len = %d, want 16", len(data))
	}
	if got := pool.Stats().InUse; got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}

	sibling.Release()
	if got := pool.Stats().InUse; got != 0 {
		t.Errorf("InUse after all releases = %d, want 0", got)
	}
}

func TestPoolAcquireByHandle(t *testing.T) {
	pool := NewFramePool()
	f := pool.Allocate(8)
	h := f.Handle()

	g, err := pool.Acquire(h)
	if err != nil {
		t.Fatalf("Acquire(handle) failed: %v", err)
	}
	f.Release()
	g.Release()

	if _, err := pool.Acquire(h); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Acquire of recycled handle: expected ErrIllegalState, got %v", err)
	}
}

func TestPoolRecyclesMemory(t *testing.T) {
	pool := NewFramePool()
	f := pool.Allocate(32)
	data, _ := f.Data()
	data[0] = 0xAB
	f.Release()

	stats := pool.Stats()
	if stats.Recycled != 1 || stats.Free != 1 {
		t.Fatalf("unexpected stats after release: %+v", stats)
	}

	g := pool.Allocate(32)
	defer g.Release()
	reused, _ := g.Data()
	if reused[0] != 0xAB {
		t.Error("expected the released buffer to be reused")
	}
	if pool.Stats().Free != 0 {
		t.Errorf("Free = %d, want 0", pool.Stats().Free)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	pool := NewFramePool()
	root := pool.Allocate(64)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				c, err := root.Acquire()
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				c.Release()
				c.Release()
			}
		}()
	}
	wg.Wait()

	if got := pool.Stats().InUse; got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}
	root.Release()
	if got := pool.Stats().InUse; got != 0 {
		t.Errorf("InUse = %d, want 0", got)
	}
}

func TestDepthAt(t *testing.T) {
	pool := NewFramePool()
	f := pool.Allocate(2 * 2 * 2)
	defer f.Release()
	data, _ := f.Data()
	data[6], data[7] = 0x34, 0x12
	f.buf.info = FrameInfo{
		Width: 2, Height: 2, Stride: 4,
		VideoMode: VideoMode{ResolutionX: 2, ResolutionY: 2, FPS: 30, PixelFormat: PixelFormatDepth1MM},
	}

	v, err := f.DepthAt(1, 1)
	if err != nil || v != 0x1234 {
		t.Errorf("DepthAt(1,1) = %#x, %v; want 0x1234", v, err)
	}
	if _, err := f.DepthAt(2, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument out of bounds, got %v", err)
	}
}

func TestHolderKeepsNewest(t *testing.T) {
	pool := NewFramePool()
	var h frameHolder
	wake := make(chan struct{}, 1)
	h.addWaiter(wake)

	push := func(idx int64) pushResult {
		return h.push(pool.Allocate(4), FrameInfo{Index: idx, TimestampMicros: uint64(idx) * 100})
	}

	if r := push(1); r != pushAccepted {
		t.Fatalf("first push = %v", r)
	}
	select {
	case <-wake:
	default:
		t.Error("waiter not signalled")
	}
	if r := push(2); r != pushReplaced {
		t.Errorf("second push = %v, want replaced", r)
	}
	if r := push(2); r != pushRejected {
		t.Errorf("repeated index = %v, want rejected", r)
	}
	if ts, ok := h.peek(); !ok || ts != 200 {
		t.Errorf("peek = %d, %v", ts, ok)
	}

	f := h.take()
	if f == nil {
		t.Fatal("expected pending frame")
	}
	f.Release()
	if h.droppedCount() != 1 {
		t.Errorf("dropped = %d, want 1", h.droppedCount())
	}

	h.reset()
	if r := push(1); r != pushAccepted {
		t.Errorf("push after reset = %v, want accepted", r)
	}
	h.clear()
	if pool.Stats().InUse != 0 {
		t.Errorf("holder leaked %d buffers", pool.Stats().InUse)
	}
}
