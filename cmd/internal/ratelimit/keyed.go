package ratelimit

import (
	"sync"
	"time"
)

// Keyed holds one Window per key.
type Keyed struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	windows   map[string]*Window
	lastSweep time.Time
}

// NewKeyed constructs a Keyed limiter allowing limit events per window per key.
func NewKeyed(limit int, window time.Duration) *Keyed {
	w := NewWindow(limit, window)
	return &Keyed{
		limit:   w.limit,
		window:  w.window,
		windows: make(map[string]*Window),
	}
}

// Allow records an event for key. An empty key is always allowed.
func (k *Keyed) Allow(key string, now time.Time) (bool, time.Duration) {
	if key == "" {
		return true, 0
	}
	return k.get(key, now).Reserve(now)
}

// Check reports whether key may act at now without recording an event.
// Used to throttle on failures only: Check first, Allow after a failure.
func (k *Keyed) Check(key string, now time.Time) (bool, time.Duration) {
	if key == "" {
		return true, 0
	}
	return k.get(key, now).Check(now)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}

func (k *Keyed) get(key string, now time.Time) *Window {
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastSweep) >= k.window {
		for kk, w := range k.windows {
			if w.idle(now) {
				delete(k.windows, kk)
			}
		}
		k.lastSweep = now
	}

	w, ok := k.windows[key]
	if !ok {
		w = NewWindow(k.limit, k.window)
		k.windows[key] = w
	}
	return w
}
