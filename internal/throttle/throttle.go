// Package throttle coalesces bursts of change notifications into a single
// trailing-edge call.
package throttle

import (
	"sync"
	"time"
)

// Throttler runs callback at most once per interval after Request is called.
// Requests made while a call is already scheduled are folded into it, so the
// callback always sees the latest state when it finally runs.
//
// post decides where the callback executes. The engine passes a function that
// enqueues onto its serial loop; tests can pass one that runs inline.
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	post     func(func())
	callback func()

	timer   *time.Timer
	pending bool
	seq     uint64
}

func New(interval time.Duration, post func(func()), callback func()) *Throttler {
	if post == nil {
		post = func(f func()) { f() }
	}
	return &Throttler{
		interval: interval,
		post:     post,
		callback: callback,
	}
}

// Request schedules the callback unless one is already pending.
func (t *Throttler) Request() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending {
		return
	}
	t.pending = true
	t.seq++
	seq := t.seq
	t.timer = time.AfterFunc(t.interval, func() {
		t.post(func() { t.fire(seq) })
	})
}

func (t *Throttler) fire(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	t.mu.Unlock()

	t.callback()
}

// Cancel drops a pending call. A timer that has already fired and posted its
// callback is invalidated through the sequence number.
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
	t.seq++
}

// Flush runs a pending call immediately on the caller's goroutine and reports
// whether there was one.
func (t *Throttler) Flush() bool {
	t.mu.Lock()
	if !t.pending {
		t.mu.Unlock()
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
	t.seq++
	t.mu.Unlock()

	t.callback()
	return true
}

func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
