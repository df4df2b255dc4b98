package remote

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/pkg/format"
)

// emitInterval is the minimum spacing between progress callbacks.
const emitInterval = 500 * time.Millisecond

// speedWindow bounds how far back the smoothed speed looks.
const speedWindow = 5 * time.Second

// sampleInterval spaces the points kept on the speed window.
const sampleInterval = 100 * time.Millisecond

// Progress is one snapshot of a running transfer.
type Progress struct {
	// Percent of the total, 0-100. Zero when the total is unknown.
	Percent float64 `json:"percent"`
	// Transferred bytes so far, including any resumed prefix.
	Transferred int64 `json:"transferred"`
	// Total bytes expected, 0 when unknown.
	Total int64 `json:"total"`
	// Speed in bytes per second, smoothed over the recent window.
	Speed float64 `json:"speed"`
	// ETA until completion at the current speed.
	ETA time.Duration `json:"eta"`
	// Elapsed time since the transfer started.
	Elapsed time.Duration `json:"elapsed"`
}

// String renders the snapshot with humane units.
func (p Progress) String() string {
	return fmt.Sprintf("%s %s/%s %s eta %s",
		format.Percent(p.Percent),
		format.Bytes(p.Transferred),
		format.Bytes(p.Total),
		format.Speed(int64(p.Speed)),
		format.ETA(p.ETA),
	)
}

// ProgressFunc receives transfer progress snapshots. A nil func is valid and
// disables reporting.
type ProgressFunc func(Progress)

// sample is one point on the speed window.
type sample struct {
	at          time.Time
	transferred int64
}

// Tracker turns byte counts into throttled Progress callbacks. Both
// transports share it so percent, smoothed speed, ETA and emission spacing
// behave identically over SFTP and WebDAV.
type Tracker struct {
	mu          sync.Mutex
	total       int64
	transferred int64
	started     time.Time
	lastEmit    time.Time
	samples     []sample
	fn          ProgressFunc
	now         func() time.Time
}

// NewTracker creates a tracker for a transfer of total bytes. A zero total
// keeps Percent and ETA at zero but still reports transferred and speed.
func NewTracker(total int64, fn ProgressFunc) *Tracker {
	t := &Tracker{
		total: total,
		fn:    fn,
		now:   time.Now,
	}
	t.started = t.now()
	t.samples = append(t.samples, sample{at: t.started})
	return t
}

// Resume seeds the tracker with bytes already present locally, so percent
// accounts for them without counting them toward speed.
func (t *Tracker) Resume(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferred = offset
	t.samples = []sample{{at: t.now(), transferred: offset}}
}

// Add records n freshly transferred bytes and emits a snapshot when the
// emission interval has passed.
func (t *Tracker) Add(n int64) {
	t.mu.Lock()
	t.transferred += n
	now := t.now()

	// Coalesce points closer than sampleInterval, but never the first one:
	// it anchors the window.
	if last := &t.samples[len(t.samples)-1]; len(t.samples) >= 2 && now.Sub(last.at) < sampleInterval {
		last.transferred = t.transferred
	} else {
		t.samples = append(t.samples, sample{at: now, transferred: t.transferred})
	}
	t.trimWindow(now)

	if now.Sub(t.lastEmit) < emitInterval {
		t.mu.Unlock()
		return
	}
	t.lastEmit = now
	snap := t.snapshot(now)
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Finish emits one final snapshot regardless of the emission interval.
func (t *Tracker) Finish() {
	t.mu.Lock()
	now := t.now()
	snap := t.snapshot(now)
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Transferred returns the byte count so far, resumed prefix included.
func (t *Tracker) Transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred
}

func (t *Tracker) trimWindow(now time.Time) {
	cutoff := now.Add(-speedWindow)
	keep := 0
	for keep < len(t.samples)-1 && t.samples[keep].at.Before(cutoff) {
		keep++
	}
	t.samples = t.samples[keep:]
}

func (t *Tracker) snapshot(now time.Time) Progress {
	p := Progress{
		Transferred: t.transferred,
		Total:       t.total,
		Elapsed:     now.Sub(t.started),
	}
	if t.total > 0 {
		p.Percent = float64(t.transferred) / float64(t.total) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}

	if len(t.samples) >= 2 {
		first := t.samples[0]
		last := t.samples[len(t.samples)-1]
		window := last.at.Sub(first.at).Seconds()
		if window > 0 {
			p.Speed = float64(last.transferred-first.transferred) / window
		}
	}
	if p.Speed > 0 && t.total > 0 && t.transferred < t.total {
		remaining := float64(t.total - t.transferred)
		p.ETA = time.Duration(remaining / p.Speed * float64(time.Second))
	}
	return p
}

// Reader returns a reader that counts everything read through it.
func (t *Tracker) Reader(r io.Reader) io.Reader {
	return &trackingReader{r: r, t: t}
}

// Writer returns a writer that counts everything written through it.
func (t *Tracker) Writer(w io.Writer) io.Writer {
	return &trackingWriter{w: w, t: t}
}

type trackingReader struct {
	r io.Reader
	t *Tracker
}

func (tr *trackingReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		tr.t.Add(int64(n))
	}
	return n, err
}

type trackingWriter struct {
	w io.Writer
	t *Tracker
}

func (tw *trackingWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	if n > 0 {
		tw.t.Add(int64(n))
	}
	return n, err
}
