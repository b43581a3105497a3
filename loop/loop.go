// Package loop provides a single-goroutine event loop. Everything that
// mutates editor state (key handling, debounce timers, network results) is
// posted to one Loop so it runs one task at a time, in order.
package loop

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Loop runs posted tasks one at a time on its own goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New starts a loop.
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn to run after every task already queued. It never blocks and
// returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	// Wake under mu so Close cannot close the channel between the check
	// and the send. The buffered send never blocks.
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a loop task. It returns false if the loop is closed.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Tasks still queued are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.wake)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			runTask(fn)
		}
	}
}

// runTask isolates the loop from panicking tasks.
func runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Timer is a one-shot timer whose callback runs on the loop.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return tm
}

// Stop prevents the callback from running. Called from the loop, it also
// covers a timer that already fired but whose callback is still queued.
// It reports whether the call stopped the timer.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.t.Stop()
	return !t.stopped.Swap(true)
}
