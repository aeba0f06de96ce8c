package realtime

import (
	"sync"
	"time"
)

// Client represents one connected WebSocket, registered under its account.
//
// Design notes:
// - Send carries pre-encoded frames and is never closed, so a concurrent
//   Publish can never panic on a closed channel.
// - done signals goroutines to stop; Close is idempotent.
// - End asks the connection to send session_ended and close. It never blocks.
type Client struct {
	ConnID           string
	AccountID        string
	SessionID        string
	SessionExpiresAt time.Time

	Send chan []byte

	ended     chan string
	endOnce   sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID, accountID, sessionID string, expiresAt time.Time, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID:           connID,
		AccountID:        accountID,
		SessionID:        sessionID,
		SessionExpiresAt: expiresAt,
		Send:             make(chan []byte, sendQueueSize),
		ended:            make(chan string, 1),
		done:             make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Ended delivers the session end reason at most once.
func (c *Client) Ended() <-chan string { return c.ended }

// End requests a session_ended close with reason. Only the first call counts.
func (c *Client) End(reason string) {
	if c == nil {
		return
	}
	c.endOnce.Do(func() {
		c.ended <- reason
	})
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep Publish safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues frame without blocking. It reports false when the queue is
// full or the client is shutting down.
func (c *Client) offer(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}
