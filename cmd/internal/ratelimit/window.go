// Package ratelimit provides in-process sliding-window limiters.
//
// Window guards a single actor (one WebSocket connection). Keyed guards many
// actors at once (login attempts per client IP) and forgets idle keys.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding-window limiter: at most Limit events per Window.
type Window struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewWindow constructs a Window. Non-positive inputs fall back to 1 event per second.
func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Window{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time now should be permitted and records it if so.
func (r *Window) Allow(now time.Time) bool {
	ok, _ := r.Reserve(now)
	return ok
}

// Reserve is Allow that also reports, on refusal, how long until the oldest
// event leaves the window.
func (r *Window) Reserve(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	if len(r.events) >= r.limit {
		return false, r.events[0].Add(r.window).Sub(now)
	}
	r.events = append(r.events, now)
	return true, 0
}

// Check reports whether an event at now would be permitted without recording it.
func (r *Window) Check(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	if len(r.events) >= r.limit {
		return false, r.events[0].Add(r.window).Sub(now)
	}
	return true, 0
}

// idle reports whether no event is left inside the window.
func (r *Window) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	return len(r.events) == 0
}

func (r *Window) prune(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}
