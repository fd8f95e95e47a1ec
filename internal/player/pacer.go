package player

import "time"

// maxSleep bounds a single pause, so a recording with a gap in its
// timestamps does not stall playback.
const maxSleep = 2 * time.Second

// pacer turns recorded timestamps into wall-clock pauses. The reference
// moves with every frame, so a consumer that stops reading for a while is
// not followed by a burst of catch-up frames.
type pacer struct {
	hasRef  bool
	refTS   uint64
	refTime time.Time
}

func (p *pacer) reset() { p.hasRef = false }

// delay returns how long to wait before a frame stamped ts at the given
// speed. The first frame after a reset sets the reference and plays at once.
func (p *pacer) delay(ts uint64, speed float64, now time.Time) time.Duration {
	if !p.hasRef {
		p.hasRef, p.refTS, p.refTime = true, ts, now
		return 0
	}
	if speed <= 0 || ts <= p.refTS {
		return 0
	}
	want := time.Duration(float64(ts-p.refTS)/speed) * time.Microsecond
	if elapsed := now.Sub(p.refTime); elapsed < want {
		return min(want-elapsed, maxSleep)
	}
	return 0
}

// advance records that the frame stamped ts was played at now.
func (p *pacer) advance(ts uint64, now time.Time) {
	if p.hasRef && ts > p.refTS {
		p.refTS, p.refTime = ts, now
	}
}
