package remote

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock steps time manually so speed windows and emission spacing are
// exact instead of racing the wall clock.
type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestTracker(total int64, fn ProgressFunc) (*Tracker, *fakeClock) {
	clock := &fakeClock{at: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(total, fn)
	tr.now = clock.now
	tr.started = clock.at
	tr.samples = []sample{{at: clock.at}}
	return tr, clock
}

func TestTracker_ThrottlesEmissions(t *testing.T) {
	var calls int
	tr, clock := newTestTracker(1000, func(Progress) { calls++ })

	tr.Add(100)
	assert.Equal(t, 1, calls, "first add reports immediately")

	clock.advance(100 * time.Millisecond)
	tr.Add(100)
	assert.Equal(t, 1, calls, "within the emission interval nothing is reported")

	clock.advance(450 * time.Millisecond)
	tr.Add(100)
	assert.Equal(t, 2, calls)

	tr.Finish()
	assert.Equal(t, 3, calls, "finish always reports")
}

func TestTracker_PercentAndETA(t *testing.T) {
	var last Progress
	tr, clock := newTestTracker(10000, func(p Progress) { last = p })

	for i := 0; i < 3; i++ {
		clock.advance(time.Second)
		tr.Add(1000)
	}

	assert.InDelta(t, 30.0, last.Percent, 0.001)
	assert.Equal(t, int64(3000), last.Transferred)
	assert.Equal(t, int64(10000), last.Total)
	assert.InDelta(t, 1000.0, last.Speed, 0.001, "3000 bytes over 3 seconds")
	assert.Equal(t, 7*time.Second, last.ETA)
	assert.Equal(t, 3*time.Second, last.Elapsed)
}

func TestTracker_ResumeCountsTowardPercentNotSpeed(t *testing.T) {
	var last Progress
	tr, clock := newTestTracker(1000, func(p Progress) { last = p })

	tr.Resume(400)
	clock.advance(time.Second)
	tr.Add(100)

	assert.Equal(t, int64(500), tr.Transferred())
	assert.InDelta(t, 50.0, last.Percent, 0.001)
	assert.InDelta(t, 100.0, last.Speed, 0.001, "only fresh bytes count toward speed")
	assert.Equal(t, 5*time.Second, last.ETA)
}

func TestTracker_SpeedWindowForgetsOldSamples(t *testing.T) {
	var last Progress
	tr, clock := newTestTracker(0, func(p Progress) { last = p })

	// Adds at 2s, 4s, 6s, 8s; the 5s window at 8s starts at 3s, so the
	// anchor and the 2s sample fall out.
	for i := 0; i < 4; i++ {
		clock.advance(2 * time.Second)
		tr.Add(100)
	}

	assert.InDelta(t, 50.0, last.Speed, 0.001, "200 bytes over the 4s left in the window")
}

func TestTracker_CoalescesRapidSamples(t *testing.T) {
	tr, clock := newTestTracker(0, nil)

	for i := 0; i < 50; i++ {
		clock.advance(10 * time.Millisecond)
		tr.Add(10)
	}

	assert.LessOrEqual(t, len(tr.samples), 7, "per-read samples collapse onto the sample interval")
	assert.Equal(t, int64(500), tr.Transferred())
}

func TestTracker_ZeroTotal(t *testing.T) {
	var last Progress
	tr, clock := newTestTracker(0, func(p Progress) { last = p })

	clock.advance(time.Second)
	tr.Add(100)
	tr.Finish()

	assert.Zero(t, last.Percent)
	assert.Zero(t, last.ETA)
	assert.Equal(t, int64(100), last.Transferred)
}

func TestTracker_NilCallback(t *testing.T) {
	tr, clock := newTestTracker(100, nil)
	clock.advance(time.Second)
	tr.Add(100)
	tr.Finish()
	assert.Equal(t, int64(100), tr.Transferred())
}

func TestTracker_ReaderAndWriter(t *testing.T) {
	tr, _ := newTestTracker(0, nil)

	n, err := io.Copy(io.Discard, tr.Reader(strings.NewReader("0123456789")))
	require.NoError(t, err)
	require.Equal(t, int64(10), n)
	assert.Equal(t, int64(10), tr.Transferred())

	var sb strings.Builder
	_, err = io.Copy(tr.Writer(&sb), strings.NewReader("abcde"))
	require.NoError(t, err)
	assert.Equal(t, "abcde", sb.String())
	assert.Equal(t, int64(15), tr.Transferred())
}

func TestProgress_String(t *testing.T) {
	p := Progress{
		Percent:     42.5,
		Transferred: 425 << 20,
		Total:       1000 << 20,
		Speed:       25 << 20,
		ETA:         23 * time.Second,
	}
	s := p.String()
	assert.Contains(t, s, "42.5%")
	assert.Contains(t, s, "/s")
	assert.Contains(t, s, "eta 23s")
}
