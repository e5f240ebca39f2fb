package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock(usecWithinSecond int) *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, int64(usecWithinSecond)*1000)}
}

func TestTimer_Delta(t *testing.T) {
	clock := newFakeClock(0)
	timer := NewTimerWithClock(clock)

	clock.advance(250 * time.Millisecond)
	assert.Equal(t, uint64(250), timer.Delta())

	// Delta resets the reference point.
	clock.advance(5 * time.Second)
	assert.Equal(t, uint64(5000), timer.Delta())
	assert.Equal(t, uint64(0), timer.Delta())
}

func TestMicroTimer_Delta(t *testing.T) {
	t.Run("within one second", func(t *testing.T) {
		clock := newFakeClock(100)
		timer := NewMicroTimerWithClock(clock)
		clock.advance(1500 * time.Microsecond)
		assert.Equal(t, uint64(1500), timer.Delta())
	})

	t.Run("no elapsed time", func(t *testing.T) {
		clock := newFakeClock(42)
		timer := NewMicroTimerWithClock(clock)
		assert.Equal(t, uint64(0), timer.Delta())
	})

	t.Run("wraps across a second boundary", func(t *testing.T) {
		clock := newFakeClock(999_900)
		timer := NewMicroTimerWithClock(clock)
		clock.advance(300 * time.Microsecond)
		assert.Equal(t, uint64(300), timer.Delta())
	})

	t.Run("intervals over a second are folded", func(t *testing.T) {
		clock := newFakeClock(200)
		timer := NewMicroTimerWithClock(clock)
		clock.advance(time.Second + 50*time.Microsecond)
		assert.Equal(t, uint64(50), timer.Delta())
	})
}

func TestMicroTimer_SystemClock(t *testing.T) {
	const wait = 20 * time.Millisecond
	timer := NewMicroTimer()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
	}
	d := timer.Delta()
	assert.GreaterOrEqual(t, d, uint64(wait.Microseconds()))
	assert.Less(t, d, uint64((wait + 50*time.Millisecond).Microseconds()))
}

func TestTimeCounter(t *testing.T) {
	clock := newFakeClock(0)
	timer := NewMicroTimerWithClock(clock)
	counter := NewTimeCounter(timer)

	for _, d := range []time.Duration{120 * time.Microsecond, 3 * time.Millisecond, 45 * time.Microsecond} {
		clock.advance(d)
		assert.Equal(t, uint64(d.Microseconds()), counter.Tick())
	}
	assert.Equal(t, uint64(120+3000+45), counter.Get())

	counter.Reset()
	assert.Equal(t, uint64(0), counter.Get())

	clock.advance(10 * time.Microsecond)
	counter.Tick()
	assert.Equal(t, uint64(10), counter.Get())
}

func TestTimeCounter_SharedTimer(t *testing.T) {
	clock := newFakeClock(0)
	timer := NewMicroTimerWithClock(clock)
	kernelA := NewTimeCounter(timer)
	kernelB := NewTimeCounter(timer)

	clock.advance(100 * time.Microsecond)
	kernelA.Tick()
	clock.advance(30 * time.Microsecond)
	kernelB.Tick()
	clock.advance(70 * time.Microsecond)
	kernelA.Tick()

	require.Equal(t, uint64(170), kernelA.Get())
	require.Equal(t, uint64(30), kernelB.Get())
}

func TestTimeMicrosRange(t *testing.T) {
	us := TimeMicros()
	assert.Less(t, us, uint64(1_000_000))
	assert.Greater(t, TimeMillis(), uint64(0))
}
