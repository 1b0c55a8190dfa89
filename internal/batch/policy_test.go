package batch

import (
	"testing"
	"time"

	"tickerflow/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 23, 0, 0, 0, 0, time.UTC)}
}

func TestNewRejectsInvalidThresholds(t *testing.T) {
	cases := []struct {
		name    string
		maxSize int
		maxAge  time.Duration
	}{
		{"zero size", 0, time.Second},
		{"negative size", -1, time.Second},
		{"zero age", 10, 0},
		{"negative age", 10, -time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := New[int](c.maxSize, c.maxAge)
			require.ErrorIs(t, err, exception.ErrInvalidBatchConfig)
			assert.Nil(t, p)
		})
	}
}

func TestReadyExactlyAtSizeThreshold(t *testing.T) {
	clock := newClock()
	p, err := New[int](5, time.Hour, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		p.Append(i)
		if i < 5 {
			assert.Falsef(t, p.Ready(), "ready too early at %d items", i)
		} else {
			assert.True(t, p.Ready())
		}
	}
}

func TestReadyAfterMaxAge(t *testing.T) {
	clock := newClock()
	p, err := New[string](100, 10*time.Second, WithClock(clock.Now))
	require.NoError(t, err)

	p.Append("a")
	clock.Advance(9*time.Second + 999*time.Millisecond)
	assert.False(t, p.Ready())

	clock.Advance(time.Millisecond)
	assert.True(t, p.Ready())

	clock.Advance(time.Minute)
	assert.True(t, p.Ready())
}

func TestAgeCountsFromFirstAppendOnly(t *testing.T) {
	clock := newClock()
	p, err := New[int](100, 10*time.Second, WithClock(clock.Now))
	require.NoError(t, err)

	p.Append(1)
	clock.Advance(6 * time.Second)
	p.Append(2)
	clock.Advance(4 * time.Second)
	assert.True(t, p.Ready())
}

func TestEmptyPolicyNeverReady(t *testing.T) {
	clock := newClock()
	p, err := New[int](1, time.Nanosecond, WithClock(clock.Now))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.False(t, p.Ready())
	_, started := p.Started()
	assert.False(t, started)
}

func TestResetClearsWindow(t *testing.T) {
	clock := newClock()
	p, err := New[int](2, time.Second, WithClock(clock.Now))
	require.NoError(t, err)

	p.Append(1, 2)
	require.True(t, p.Ready())

	p.Reset()
	assert.False(t, p.Ready())
	assert.Empty(t, p.Drain())
	assert.Equal(t, 0, p.Len())
	_, started := p.Started()
	assert.False(t, started)
}

func TestDrainInInsertionOrder(t *testing.T) {
	p, err := New[string](3, 100*time.Second)
	require.NoError(t, err)

	p.Append("x")
	p.Append("y")
	p.Append("z")

	require.True(t, p.Ready())
	assert.Equal(t, []string{"x", "y", "z"}, p.Drain())
	// Drain does not clear.
	assert.Equal(t, 3, p.Len())
}

func TestResetDoesNotClobberDrainedSlice(t *testing.T) {
	p, err := New[int](2, time.Second)
	require.NoError(t, err)

	p.Append(1, 2)
	drained := p.Drain()
	p.Reset()
	p.Append(3, 4)

	assert.Equal(t, []int{1, 2}, drained)
	assert.Equal(t, []int{3, 4}, p.Drain())
}

func TestStartedTracksFirstAppend(t *testing.T) {
	clock := newClock()
	p, err := New[int](10, time.Minute, WithClock(clock.Now))
	require.NoError(t, err)

	first := clock.Now()
	p.Append(1)
	clock.Advance(time.Second)
	p.Append(2)

	start, ok := p.Started()
	require.True(t, ok)
	assert.True(t, start.Equal(first))
	assert.Equal(t, 10, p.MaxSize())
	assert.Equal(t, time.Minute, p.MaxAge())
}
