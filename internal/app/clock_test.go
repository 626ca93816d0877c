package app_test

import (
	"sync"
	"testing"
	"time"

	"brainquiz-service/internal/app"
)

// fakeClock hands out manually driven tickers and a settable now.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) app.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick delivers one tick to the most recent ticker and reports whether the timer took it.
func (c *fakeClock) Tick(t *testing.T) bool {
	t.Helper()
	c.mu.Lock()
	if len(c.tickers) == 0 {
		c.mu.Unlock()
		t.Fatalf("no ticker created")
	}
	ticker := c.tickers[len(c.tickers)-1]
	now := c.now
	c.mu.Unlock()

	select {
	case ticker.ch <- now:
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not stop")
	}
}
