package delay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFakeClock(start)

	var got []string
	var seen []time.Time
	c.AfterFunc(30*time.Millisecond, func() { got = append(got, "c"); seen = append(seen, c.Now()) })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, "a"); seen = append(seen, c.Now()) })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, "b"); seen = append(seen, c.Now()) })

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, start.Add(20*time.Millisecond), c.Now())

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []time.Time{
		start.Add(10 * time.Millisecond),
		start.Add(10 * time.Millisecond),
		start.Add(30 * time.Millisecond),
	}, seen)
}

func TestFakeClock_Stop(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_CallbackArmsWithinWindow(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 5 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, 5, count)
}

func TestFakeClock_ZeroDelayNeedsAdvance(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	fired := false
	c.AfterFunc(-time.Second, func() { fired = true })
	assert.False(t, fired)

	c.Advance(0)
	assert.True(t, fired)
}
