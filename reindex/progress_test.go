package reindex

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_ReportsAtInterval(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressTracker(&out, 100, 50)
	p.Start()

	p.Increment(10)
	assert.Empty(t, out.String())

	p.Increment(40)
	assert.Contains(t, out.String(), "50/100 (50.0%)")

	p.Increment(50)
	assert.Contains(t, out.String(), "100/100 (100.0%)")
	assert.Contains(t, out.String(), "chunks/s")
	assert.Equal(t, 2, strings.Count(out.String(), "\r"))
	assert.Positive(t, p.Elapsed())
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	p := NewProgressTracker(&bytes.Buffer{}, 10, 1)
	p.Start()
	p.Increment(25)
	assert.Equal(t, 10, p.Current())
}

func TestProgressTracker_FinishEndsLine(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressTracker(&out, 100, 10)
	p.Start()
	p.Increment(75)
	p.Finish()

	assert.Contains(t, out.String(), "75/100")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestProgressTracker_IgnoredBeforeStart(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressTracker(&out, 100, 10)
	p.Increment(50)
	p.Finish()

	assert.Empty(t, out.String())
	assert.Zero(t, p.Current())
	assert.Equal(t, time.Duration(0), p.Elapsed())
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressTracker(&out, 0, 0)
	p.Start()
	p.Finish()
	assert.Contains(t, out.String(), "0/0 (0.0%)")
}
