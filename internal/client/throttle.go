package client

import (
	"sync"
	"time"
)

// Throttle forwards at most one value per window. The first value after a
// quiet period is emitted immediately; values arriving inside the window are
// coalesced and the latest one is emitted when the window ends.
type Throttle[T any] struct {
	window time.Duration
	emit   func(T)

	mu         sync.Mutex
	last       time.Time
	pending    T
	hasPending bool
	timer      *time.Timer
	stopped    bool
}

func NewThrottle[T any](window time.Duration, emit func(T)) *Throttle[T] {
	return &Throttle[T]{window: window, emit: emit}
}

func (t *Throttle[T]) Push(v T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	elapsed := now.Sub(t.last)
	if t.timer == nil && elapsed >= t.window {
		t.last = now
		t.mu.Unlock()
		t.emit(v)
		return
	}
	t.pending, t.hasPending = v, true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.window-elapsed, t.flush)
	}
	t.mu.Unlock()
}

func (t *Throttle[T]) flush() {
	t.mu.Lock()
	t.timer = nil
	if t.stopped || !t.hasPending {
		t.mu.Unlock()
		return
	}
	v := t.pending
	var zero T
	t.pending, t.hasPending = zero, false
	t.last = time.Now()
	t.mu.Unlock()
	t.emit(v)
}

// Stop drops any pending value. Later pushes are ignored.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	var zero T
	t.pending, t.hasPending = zero, false
}
