package stats

import (
	"time"
)

// StatsTicker is the part of time.Ticker that uptime reporting reads.
type StatsTicker interface {
	C() <-chan time.Time
	Stop()
}

type statsTicker struct {
	*time.Ticker
}

func (s *statsTicker) C() <-chan time.Time { return s.Ticker.C }

func NewStatsTicker(dur time.Duration) StatsTicker {
	return &statsTicker{time.NewTicker(dur)}
}

// StatsTime is the clock behind latencies and uptime gauges. Tests swap
// the package level Time for a fixed one.
type StatsTime interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) StatsTicker
}

type wallClock struct{}

func (wallClock) Now() time.Time                        { return time.Now() }
func (wallClock) Since(t time.Time) time.Duration       { return time.Since(t) }
func (wallClock) NewTicker(d time.Duration) StatsTicker { return NewStatsTicker(d) }

// DefaultStatsTime reads the wall clock.
func DefaultStatsTime() StatsTime { return wallClock{} }

// fixedClock always reports the same instant and elapsed time. Its tickers
// fire only when the test sends on ch.
type fixedClock struct {
	now   time.Time
	since time.Duration
	ch    <-chan time.Time
}

type manualTicker struct {
	ch <-chan time.Time
}

func (c fixedClock) Now() time.Time                      { return c.now }
func (c fixedClock) Since(time.Time) time.Duration       { return c.since }
func (c fixedClock) NewTicker(time.Duration) StatsTicker { return &manualTicker{ch: c.ch} }
func (t *manualTicker) C() <-chan time.Time              { return t.ch }
func (t *manualTicker) Stop()                            {}

func NewTestTime(now time.Time, since time.Duration, ch <-chan time.Time) StatsTime {
	return fixedClock{now, since, ch}
}
