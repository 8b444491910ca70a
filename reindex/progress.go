package reindex

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints a carriage-return progress line while a run
// works through a known number of chunks. It is safe for concurrent use.
type ProgressTracker struct {
	out   io.Writer
	total int
	every int

	mu      sync.Mutex
	began   time.Time
	done    int
	printed int
}

// NewProgressTracker reports to out each time at least every more chunks of
// total have been processed. every is clamped to 1.
func NewProgressTracker(out io.Writer, total, every int) *ProgressTracker {
	return &ProgressTracker{out: out, total: total, every: max(every, 1)}
}

// Start resets the counters and the clock. Calls made before Start are ignored.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	p.began = time.Now()
	p.done, p.printed = 0, 0
	p.mu.Unlock()
}

// Increment records n more processed chunks, never exceeding the total.
func (p *ProgressTracker) Increment(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return
	}

	p.done = min(p.done+n, p.total)
	if p.done-p.printed >= p.every {
		p.print()
		p.printed = p.done
	}
}

// Finish prints the final line followed by a newline.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return
	}
	p.print()
	fmt.Fprintln(p.out)
}

// Current returns the number of chunks recorded so far.
func (p *ProgressTracker) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Elapsed returns the time since Start, or zero before it.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return 0
	}
	return time.Since(p.began)
}

// print writes the progress line. Caller holds mu.
func (p *ProgressTracker) print() {
	var pct, perSec float64
	if p.total > 0 {
		pct = 100 * float64(p.done) / float64(p.total)
	}
	if s := time.Since(p.began).Seconds(); s > 0 {
		perSec = float64(p.done) / s
	}
	fmt.Fprintf(p.out, "\rProgress: %d/%d (%.1f%%) - %.1f chunks/s", p.done, p.total, pct, perSec)
}
