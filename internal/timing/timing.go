// Package timing provides the wall-clock counters used to measure kernel
// execution from the host side.
//
// Timer, MicroTimer and TimeCounter are single-owner values: they carry no
// locks and must not be shared between goroutines. A MicroTimer may be
// shared by several TimeCounters on the same goroutine, in which case each
// Tick measures from the previous Tick of any of them.
package timing

import "time"

// Clock is the time source. System is used unless a test injects another.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System reads the host wall clock.
var System Clock = systemClock{}

const microsPerSecond = 1_000_000

// TimeMillis returns the wall clock in milliseconds since the Unix epoch.
func TimeMillis() uint64 {
	return millis(System.Now())
}

// TimeMicros returns the microsecond component of the wall clock within
// the current second, in [0, 1000000).
func TimeMicros() uint64 {
	return micros(System.Now())
}

func millis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

func micros(t time.Time) uint64 {
	return uint64(t.Nanosecond() / 1000)
}

// Timer measures milliseconds between successive Delta calls.
type Timer struct {
	clock Clock
	prev  uint64
}

// NewTimer starts a Timer on the system clock.
func NewTimer() *Timer {
	return NewTimerWithClock(System)
}

// NewTimerWithClock starts a Timer on c.
func NewTimerWithClock(c Clock) *Timer {
	return &Timer{clock: c, prev: millis(c.Now())}
}

// Delta returns the milliseconds elapsed since the previous call (or since
// construction) and restarts the measurement.
func (t *Timer) Delta() uint64 {
	now := millis(t.clock.Now())
	d := now - t.prev
	t.prev = now
	return d
}

// MicroTimer measures microseconds between successive Delta calls using
// only the sub-second component of the clock. A reading lower than the
// previous one is taken as a single wrap of that component, so intervals
// of a second or more are under-reported.
type MicroTimer struct {
	clock Clock
	prev  uint64
}

// NewMicroTimer starts a MicroTimer on the system clock.
func NewMicroTimer() *MicroTimer {
	return NewMicroTimerWithClock(System)
}

// NewMicroTimerWithClock starts a MicroTimer on c.
func NewMicroTimerWithClock(c Clock) *MicroTimer {
	return &MicroTimer{clock: c, prev: micros(c.Now())}
}

// Delta returns the microseconds elapsed since the previous call and
// restarts the measurement.
func (t *MicroTimer) Delta() uint64 {
	now := micros(t.clock.Now())
	var d uint64
	if now >= t.prev {
		d = now - t.prev
	} else {
		d = microsPerSecond + now - t.prev
	}
	t.prev = now
	return d
}

// TimeCounter accumulates deltas of a shared MicroTimer.
type TimeCounter struct {
	timer *MicroTimer
	us    uint64
}

// NewTimeCounter returns a zeroed counter reading from t.
func NewTimeCounter(t *MicroTimer) *TimeCounter {
	return &TimeCounter{timer: t}
}

// Tick adds the timer's delta to the total and returns that delta.
func (c *TimeCounter) Tick() uint64 {
	d := c.timer.Delta()
	c.us += d
	return d
}

// Get returns the accumulated microseconds.
func (c *TimeCounter) Get() uint64 {
	return c.us
}

// Reset sets the accumulated total back to zero.
func (c *TimeCounter) Reset() {
	c.us = 0
}
