package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "spendsync/shared/contracts/realtime/v1"
)

// Observer receives realtime counters. Implemented by the metrics package.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	HandshakeRejected(reason string)
	EventPublished(kind string, delivered, dropped int)
}

// Registry maps each account to its live connections and fans mutation
// events out to them.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent Publish.
// - Publish never blocks: a full or closing queue drops that delivery only.
// - Publish never delivers outside the event's account group.
type Registry struct {
	log      *slog.Logger
	observer Observer

	mu       sync.RWMutex
	accounts map[string]map[string]*Client
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver installs a metrics observer.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:      log,
		accounts: make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds c to its account group.
func (r *Registry) Register(c *Client) {
	if r == nil || c == nil || c.ConnID == "" || c.AccountID == "" {
		return
	}

	r.mu.Lock()
	group, ok := r.accounts[c.AccountID]
	if !ok {
		group = make(map[string]*Client)
		r.accounts[c.AccountID] = group
	}
	group[c.ConnID] = c
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ConnectionOpened()
	}
	r.log.Info("realtime.conn.register", "account_id", c.AccountID, "conn_id", c.ConnID, "session_id", c.SessionID)
}

// Unregister removes c and signals it to shut down.
func (r *Registry) Unregister(c *Client) {
	if r == nil || c == nil {
		return
	}

	removed := false
	r.mu.Lock()
	if group, ok := r.accounts[c.AccountID]; ok {
		if cur, ok := group[c.ConnID]; ok && cur == c {
			delete(group, c.ConnID)
			removed = true
		}
		if len(group) == 0 {
			delete(r.accounts, c.AccountID)
		}
	}
	r.mu.Unlock()

	// Close after removal so no Publish still holds a pointer to a client
	// whose goroutines are being torn down.
	c.Close()

	if removed {
		if r.observer != nil {
			r.observer.ConnectionClosed()
		}
		r.log.Info("realtime.conn.unregister", "account_id", c.AccountID, "conn_id", c.ConnID)
	}
}

// Publish delivers ev to every live connection of ev.AccountID.
// It returns the number of connections the event was enqueued to. Zero is not
// an error: delivery is best effort and clients recover with a full refresh.
func (r *Registry) Publish(ev v1.MutationEvent) int {
	if r == nil {
		return 0
	}
	if err := ev.Validate(); err != nil {
		r.log.Warn("realtime.publish.invalid", "err", err)
		return 0
	}

	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	env, err := v1.NewEnvelope(v1.TypeMutation, ev.EventID, ts, ev)
	if err != nil {
		r.log.Error("realtime.publish.encode", "err", err)
		return 0
	}
	frame, err := json.Marshal(env)
	if err != nil {
		r.log.Error("realtime.publish.encode", "err", err)
		return 0
	}

	delivered, dropped := 0, 0

	r.mu.RLock()
	for _, c := range r.accounts[ev.AccountID] {
		if c.offer(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	r.mu.RUnlock()

	if r.observer != nil {
		r.observer.EventPublished(string(ev.Kind), delivered, dropped)
	}
	if dropped > 0 {
		r.log.Debug("realtime.publish.dropped", "account_id", ev.AccountID, "event_id", ev.EventID, "dropped", dropped)
	}
	return delivered
}

// Count returns the number of live connections for accountID.
func (r *Registry) Count(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts[accountID])
}

// SessionIssued ends every connection of userID bound to an older session.
func (r *Registry) SessionIssued(userID, sessionID string) {
	r.endWhere(userID, v1.EndSuperseded, func(c *Client) bool { return c.SessionID != sessionID })
}

// SessionEnded ends every connection of userID.
func (r *Registry) SessionEnded(userID string) {
	r.endWhere(userID, v1.EndLoggedOut, func(*Client) bool { return true })
}

// endWhere only signals; each connection's own goroutine writes
// session_ended and unregisters, so this never blocks the caller.
func (r *Registry) endWhere(accountID, reason string, match func(*Client) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.accounts[accountID] {
		if match(c) {
			c.End(reason)
		}
	}
}
