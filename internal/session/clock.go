package session

import (
	"context"
	"sync"
	"time"
)

// Clock is a repeating ticker goroutine. fn runs once per interval until it
// returns false or the clock is cancelled. An engine owns two: the 1 Hz
// countdown and the periodic autosave.
type Clock struct {
	interval time.Duration
	fn       func(ctx context.Context) bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewClock creates a stopped clock.
func NewClock(interval time.Duration, fn func(ctx context.Context) bool) *Clock {
	return &Clock{interval: interval, fn: fn}
}

// Start launches the goroutine. A clock starts at most once.
func (c *Clock) Start(parent context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx, c.done)
}

func (c *Clock) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick racing with cancellation is dropped here.
			if ctx.Err() != nil {
				return
			}
			if !c.fn(ctx) {
				return
			}
		}
	}
}

// Cancel stops the clock without waiting. Safe to call from inside fn.
func (c *Clock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true // a cancelled clock never starts
	if c.cancel != nil {
		c.cancel()
	}
}

// Stop cancels the clock and waits for its goroutine to exit.
// Must not be called from inside fn.
func (c *Clock) Stop() {
	c.Cancel()
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}
