// Package interval provides a non-blocking millisecond timer for
// cooperative polling loops.
//
// A [Timer] never sleeps. The caller arms it with [Timer.Start], asks
// [Timer.Elapsed] on every pass through its loop, and calls
// [Timer.Restart] when it wants the next interval to begin. Time is
// measured on a 32-bit millisecond counter and compared by unsigned
// subtraction, so the timer keeps working when the counter wraps.
package interval

import (
	"time"
)

// Clock reports a free-running millisecond counter. The counter is
// allowed to wrap around at 2^32.
type Clock interface {
	Millis() uint32
}

// ClockFunc adapts a plain function to the [Clock] interface.
type ClockFunc func() uint32

// Millis calls f.
func (f ClockFunc) Millis() uint32 { return f() }

// bootTime anchors the system clock at process start.
var bootTime = time.Now()

type systemClock struct{}

// Millis returns milliseconds since process start, truncated to 32
// bits. It wraps after roughly 49.7 days.
func (systemClock) Millis() uint32 {
	return uint32(time.Since(bootTime).Milliseconds())
}

// SystemClock returns the process-wide monotonic millisecond clock.
func SystemClock() Clock { return systemClock{} }

// Timer tracks one interval. The zero value is usable, reads the
// system clock, and reports elapsed until it is started.
type Timer struct {
	clock    Clock
	duration uint32
	start    uint32
}

// New returns a Timer reading from clock. A nil clock selects
// [SystemClock].
func New(clock Clock) *Timer {
	return &Timer{clock: clock}
}

func (t *Timer) now() uint32 {
	if t.clock == nil {
		return systemClock{}.Millis()
	}
	return t.clock.Millis()
}

// Start arms the timer for d, measured from now. Durations are kept at
// millisecond resolution; negative durations are treated as zero and
// anything past the counter range is clamped to it.
func (t *Timer) Start(d time.Duration) {
	ms := d.Milliseconds()
	switch {
	case ms < 0:
		ms = 0
	case ms > int64(^uint32(0)):
		ms = int64(^uint32(0))
	}
	t.duration = uint32(ms)
	t.start = t.now()
}

// Elapsed reports whether the armed duration has passed since the last
// Start or Restart.
func (t *Timer) Elapsed() bool {
	return t.now()-t.start >= t.duration
}

// Restart moves the reference point to now and keeps the duration.
func (t *Timer) Restart() {
	t.start = t.now()
}

// Duration returns the armed duration.
func (t *Timer) Duration() time.Duration {
	return time.Duration(t.duration) * time.Millisecond
}
