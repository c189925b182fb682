package engine

import (
	"context"
	"time"
)

// Clock yields the sequence of tick timestamps the engine drives the tight
// loop from. The backtest variant replays a fixed timestamp series; the
// live variant ticks on a wall-clock interval, mirroring the teacher's
// cmd/scanner/main.go paper-trading ticker loop generalized from a single
// 60s interval to a configurable one and from an infinite wall-clock
// stream to a replayable backtest series (spec §4.1, "Engine.run").
type Clock interface {
	// Next blocks until the next tick timestamp is due, or ctx is done.
	// ok is false once the series is exhausted (backtest) or ctx ended.
	Next(ctx context.Context) (t time.Time, ok bool)
}

// BacktestClock replays a fixed, ascending timestamp series with no
// wall-clock delay between ticks — a backtest runs as fast as the engine
// can process it.
type BacktestClock struct {
	series []time.Time
	pos    int
}

// NewBacktestClock wraps a pre-sorted timestamp series.
func NewBacktestClock(series []time.Time) *BacktestClock {
	return &BacktestClock{series: series}
}

func (c *BacktestClock) Next(ctx context.Context) (time.Time, bool) {
	if c.pos >= len(c.series) {
		return time.Time{}, false
	}
	select {
	case <-ctx.Done():
		return time.Time{}, false
	default:
	}
	t := c.series[c.pos]
	c.pos++
	return t, true
}

// LiveClock ticks on a fixed wall-clock interval, the live-mode analogue of
// the teacher's time.NewTicker(60 * time.Second) loop.
type LiveClock struct {
	ticker *time.Ticker
}

// NewLiveClock starts a wall-clock ticker at the given interval. The first
// tick fires after interval elapses; callers that want an immediate first
// tick should drive it once before entering the Next loop, as the teacher's
// runPaperCycle does before its ticker loop starts.
func NewLiveClock(interval time.Duration) *LiveClock {
	return &LiveClock{ticker: time.NewTicker(interval)}
}

func (c *LiveClock) Next(ctx context.Context) (time.Time, bool) {
	select {
	case <-ctx.Done():
		return time.Time{}, false
	case tickTime := <-c.ticker.C:
		return tickTime.UTC(), true
	}
}

// Stop releases the underlying ticker.
func (c *LiveClock) Stop() {
	c.ticker.Stop()
}
