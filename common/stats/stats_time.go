package stats

import (
	"sync"
	"time"
)

// For testing.
var Time StatsTime = DefaultStatsTime()

// StatsTime defines the calls we make to the stdlib time package.
// Allows for overriding in tests.
type StatsTime interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type defaultStatsTime struct{}

func (defaultStatsTime) Now() time.Time                  { return time.Now() }
func (defaultStatsTime) Since(t time.Time) time.Duration { return time.Since(t) }

var stdlibStatsTime = defaultStatsTime{}

// DefaultStatsTime returns a StatsTime backed by the stdlib time package.
func DefaultStatsTime() StatsTime { return stdlibStatsTime }

// TestTime is a manually advanced clock.
type TestTime struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestTime(now time.Time) *TestTime { return &TestTime{now: now} }

func (t *TestTime) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

func (t *TestTime) Since(then time.Time) time.Duration {
	return t.Now().Sub(then)
}

// Advance moves the clock forward by d.
func (t *TestTime) Advance(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = t.now.Add(d)
}
