// Package timer provides the countdown for an active paper session. The
// controller owns no durable state: every tick is reported back to the
// progress state machine, which remains the source of truth for remaining
// time.
package timer

import (
	"sync"
	"time"
)

// Controller is a running countdown. It invokes the tick callback once per
// interval with the new remaining value and the expiry callback exactly once
// when the countdown reaches zero. Its lifetime is scoped to "viewing an
// active, incomplete session": callers must Stop it on every exit path.
type Controller struct {
	interval time.Duration
	onTick   func(secondsRemaining int)
	onExpire func()

	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

// Start acquires a countdown from initialSeconds at the production
// one-second interval. If the budget is already exhausted the expiry
// callback fires immediately, without any tick.
func Start(initialSeconds int, onTick func(int), onExpire func()) *Controller {
	return StartWithInterval(time.Second, initialSeconds, onTick, onExpire)
}

// StartWithInterval allows tests to run the countdown at a faster interval.
func StartWithInterval(interval time.Duration, initialSeconds int, onTick func(int), onExpire func()) *Controller {
	c := &Controller{
		interval: interval,
		onTick:   onTick,
		onExpire: onExpire,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go c.run(initialSeconds)
	return c
}

func (c *Controller) run(remaining int) {
	defer close(c.finished)

	if remaining <= 0 {
		c.onExpire()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			remaining--
			c.onTick(remaining)
			if remaining <= 0 {
				c.onExpire()
				return
			}
		}
	}
}

// Stop cancels the countdown and waits for the loop to wind down, so no tick
// can land in a torn-down session after it returns. Idempotent. Must not be
// called from inside a callback.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	<-c.finished
}
