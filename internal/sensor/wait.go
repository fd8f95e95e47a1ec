package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/depthnode/internal/metrics"
)

// MaxWaitStreams is the largest stream set WaitForAny accepts.
const MaxWaitStreams = 50

// WaitForAny blocks until one of streams has a frame ready and returns its
// index. When several are ready the first one in slice order wins, unless
// a later stream of the same device holds an older frame. Timestamps are
// only compared within one device since devices do not share a clock. A
// negative timeout waits until ctx is done; otherwise ErrTimeout is returned
// once timeout elapses. Nil entries and streams that are not started are
// never ready. Streams may belong to different devices.
//
// Readiness is only a hint: another reader may take the frame first, so a
// following read must treat "no frame" as a reason to wait again.
func WaitForAny(ctx context.Context, streams []*Stream, timeout time.Duration) (int, error) {
	const op = "wait for streams"
	if len(streams) > MaxWaitStreams {
		return -1, newError(CodeUnsupported, op, fmt.Sprintf("cannot wait on %d streams, limit is %d", len(streams), MaxWaitStreams))
	}

	wake := make(chan struct{}, 1)
	for _, s := range streams {
		if s != nil {
			s.holder.addWaiter(wake)
		}
	}
	defer func() {
		for _, s := range streams {
			if s != nil {
				s.holder.removeWaiter(wake)
			}
		}
	}()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if idx := oldestReady(streams); idx >= 0 {
			return idx, nil
		}
		triggerDevices(streams)

		select {
		case <-wake:
		case <-expired:
			if idx := oldestReady(streams); idx >= 0 {
				return idx, nil
			}
			metrics.WaitTimedOut()
			return -1, newError(CodeTimeout, op, fmt.Sprintf("no stream ready within %s", timeout))
		case <-ctx.Done():
			return -1, &Error{Code: CodeTimeout, Op: op, Message: "wait interrupted", Cause: ctx.Err()}
		}
	}
}

func oldestReady(streams []*Stream) int {
	best := -1
	var bestTS uint64
	var bestDev *Device
	for i, s := range streams {
		if s == nil || (best >= 0 && s.device != bestDev) {
			continue
		}
		ts, ok := s.ready()
		if ok && (best < 0 || ts < bestTS) {
			best, bestTS, bestDev = i, ts, s.device
		}
	}
	return best
}

func triggerDevices(streams []*Stream) {
	seen := make(map[*Device]bool, len(streams))
	for _, s := range streams {
		if s == nil || s.State() != StateStarted || seen[s.device] {
			continue
		}
		seen[s.device] = true
		s.device.trigger()
	}
}
