package player

import (
	"testing"
	"time"
)

func TestPacer(t *testing.T) {
	start := time.Unix(1000, 0)
	var p pacer

	if d := p.delay(5000, 1, start); d != 0 {
		t.Errorf("first frame delay = %v, want 0", d)
	}

	tests := []struct {
		name    string
		ts      uint64
		speed   float64
		elapsed time.Duration
		want    time.Duration
	}{
		{"real time", 38000, 1, 0, 33 * time.Millisecond},
		{"partly elapsed", 38000, 1, 20 * time.Millisecond, 13 * time.Millisecond},
		{"late", 38000, 1, 50 * time.Millisecond, 0},
		{"double speed", 38000, 2, 0, 16500 * time.Microsecond},
		{"half speed", 38000, 0.5, 0, 66 * time.Millisecond},
		{"fastest", 38000, 0, 0, 0},
		{"manual", 38000, -1, 0, 0},
		{"out of order", 4000, 1, 0, 0},
		{"gap is capped", 60_000_000, 1, 0, maxSleep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.delay(tt.ts, tt.speed, start.Add(tt.elapsed)); got != tt.want {
				t.Errorf("delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPacer_AdvanceAndReset(t *testing.T) {
	start := time.Unix(1000, 0)
	var p pacer
	p.delay(0, 1, start)
	p.advance(100000, start.Add(time.Second))

	// the reference moved to the later frame
	if d := p.delay(110000, 1, start.Add(time.Second)); d != 10*time.Millisecond {
		t.Errorf("delay after advance = %v, want 10ms", d)
	}

	p.reset()
	if d := p.delay(900000, 1, start); d != 0 {
		t.Errorf("delay after reset = %v, want 0", d)
	}
}
