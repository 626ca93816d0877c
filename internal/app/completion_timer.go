package app

import (
	"context"
	"sync"
	"time"

	"brainquiz-service/internal/domain"
)

// TickInterval is how often a timed session is checked against its deadline.
const TickInterval = time.Second

// Ticker is the repeating primitive supplied by a Clock.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies wall time and repeating ticks.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemClock is the runtime clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (t systemTicker) C() <-chan time.Time { return t.t.C }
func (t systemTicker) Stop()               { t.t.Stop() }

// CompletionTimer auto-completes one timed session when its limit elapses.
type CompletionTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartCompletionTimer watches sessionID on engine once per tick. When the limit has
// passed it completes the session and calls onExpire exactly once, then stops itself.
// A tick that finds a different or already completed session stops the timer without
// side effects. onExpire runs on the timer goroutine and must not call Stop.
func StartCompletionTimer(ctx context.Context, clock Clock, engine *SessionEngine, sessionID string, onExpire func(*domain.QuizSession)) *CompletionTimer {
	ctx, cancel := context.WithCancel(ctx)
	t := &CompletionTimer{cancel: cancel, done: make(chan struct{})}
	ticker := clock.NewTicker(TickInterval)

	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				snap, completed := engine.CompleteIfExpired(sessionID)
				if completed {
					if onExpire != nil {
						onExpire(snap)
					}
					return
				}
				if current := engine.Current(); current == nil || current.ID != sessionID || current.IsCompleted {
					return
				}
			}
		}
	}()
	return t
}

// Stop cancels the timer and waits for its goroutine to exit. Safe to call repeatedly.
func (t *CompletionTimer) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the timer has stopped for any reason.
func (t *CompletionTimer) Done() <-chan struct{} {
	return t.done
}
